//go:build linux

// Package iwd drives the radio through iwd's D-Bus API.
//
// WARNING: This implementation is untested on hardware.
package iwd

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/shazow/wifiportal/wifi"
)

// DefaultStateDir is where iwd reads network provisioning files.
const DefaultStateDir = "/var/lib/iwd"

// IWD constants
const (
	iwdDest              = "net.connman.iwd"
	iwdDeviceIface       = "net.connman.iwd.Device"
	iwdNetworkIface      = "net.connman.iwd.Network"
	iwdStationIface      = "net.connman.iwd.Station"
	iwdKnownNetworkIface = "net.connman.iwd.KnownNetwork"
	iwdAccessPointIface  = "net.connman.iwd.AccessPoint"
	iwdWPSIface          = "net.connman.iwd.SimpleConfiguration"

	getManagedObjects = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
	setProperty       = "org.freedesktop.DBus.Properties.Set"
)

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Radio implements wifi.Radio using iwd.
//
// iwd switches a device between station and access point roles, so dual mode
// is time-shared: the hotspot goes down while a station attempt runs and comes
// back when the radio returns to access point mode.
type Radio struct {
	// StateDir overrides DefaultStateDir.
	StateDir string

	conn   *dbus.Conn
	logger *slog.Logger
	device dbus.ObjectPath
	ifname string
	mode   wifi.Mode

	ap         *wifi.AccessPointConfig
	stationCfg wifi.Credentials
	static     *wifi.StaticIPConfig

	// call is the in-flight Connect or PushButton request.
	call    *dbus.Call
	pending wifi.Status
}

// New checks that iwd is reachable on the system bus.
func New(logger *slog.Logger) (*Radio, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	var objs managedObjects
	if err := conn.Object(iwdDest, "/").Call(getManagedObjects, 0).Store(&objs); err != nil {
		return nil, fmt.Errorf("iwd is not available: %w", wifi.ErrNotAvailable)
	}
	return &Radio{
		StateDir: DefaultStateDir,
		conn:     conn,
		logger:   logger.With("backend", "iwd"),
		mode:     wifi.ModeStation,
	}, nil
}

func (r *Radio) objects() (managedObjects, error) {
	var objs managedObjects
	err := r.conn.Object(iwdDest, "/").Call(getManagedObjects, 0).Store(&objs)
	return objs, err
}

// getDevice returns the first wireless device, caching it.
func (r *Radio) getDevice() (dbus.ObjectPath, error) {
	if r.device != "" {
		return r.device, nil
	}
	objs, err := r.objects()
	if err != nil {
		return "", err
	}
	for path, ifaces := range objs {
		props, ok := ifaces[iwdDeviceIface]
		if !ok {
			continue
		}
		r.device = path
		if name, ok := props["Name"].Value().(string); ok {
			r.ifname = name
		}
		return path, nil
	}
	return "", fmt.Errorf("no wireless device found: %w", wifi.ErrNotFound)
}

func (r *Radio) setDeviceMode(mode string) error {
	device, err := r.getDevice()
	if err != nil {
		return err
	}
	return r.conn.Object(iwdDest, device).Call(setProperty, 0, iwdDeviceIface, "Mode", dbus.MakeVariant(mode)).Err
}

func (r *Radio) setPowered(on bool) error {
	device, err := r.getDevice()
	if err != nil {
		return err
	}
	return r.conn.Object(iwdDest, device).Call(setProperty, 0, iwdDeviceIface, "Powered", dbus.MakeVariant(on)).Err
}

func (r *Radio) Scan() ([]wifi.RawNetwork, error) {
	if r.mode == wifi.ModeOff {
		return nil, wifi.ErrWirelessDisabled
	}
	if r.mode == wifi.ModeAccessPoint {
		return nil, fmt.Errorf("cannot scan while hosting: %w", wifi.ErrNotAvailable)
	}
	device, err := r.getDevice()
	if err != nil {
		return nil, err
	}
	station := r.conn.Object(iwdDest, device)
	// Fails with Busy while a scan is already running.
	if err := station.Call(iwdStationIface+".Scan", 0).Err; err != nil {
		r.logger.Debug("scan request refused", "error", err)
	}

	var ordered []struct {
		Path     dbus.ObjectPath
		Strength int16
	}
	if err := station.Call(iwdStationIface+".GetOrderedNetworks", 0).Store(&ordered); err != nil {
		return nil, err
	}

	networks := make([]wifi.RawNetwork, 0, len(ordered))
	for _, n := range ordered {
		obj := r.conn.Object(iwdDest, n.Path)
		nameVar, err := obj.GetProperty(iwdNetworkIface + ".Name")
		if err != nil {
			continue
		}
		ssid, _ := nameVar.Value().(string)
		typeVar, _ := obj.GetProperty(iwdNetworkIface + ".Type")
		kind, _ := typeVar.Value().(string)
		networks = append(networks, wifi.RawNetwork{
			SSID: ssid,
			// Strength is in 100 * dBm.
			RSSI:     int(n.Strength) / 100,
			Security: securityOf(kind),
		})
	}
	return networks, nil
}

func securityOf(kind string) wifi.SecurityType {
	switch kind {
	case "psk", "8021x":
		return wifi.SecurityWPA
	case "wep":
		return wifi.SecurityWEP
	case "open":
		return wifi.SecurityOpen
	}
	return wifi.SecurityUnknown
}

func (r *Radio) Mode() (wifi.Mode, error) {
	return r.mode, nil
}

func (r *Radio) SetMode(mode wifi.Mode) error {
	if mode == wifi.ModeOff {
		r.call = nil
		if err := r.setPowered(false); err != nil {
			return err
		}
		r.mode = mode
		return nil
	}
	if r.mode == wifi.ModeOff {
		if err := r.setPowered(true); err != nil {
			return err
		}
	}

	switch mode {
	case wifi.ModeStation:
		if err := r.setDeviceMode("station"); err != nil {
			return err
		}
	case wifi.ModeAccessPoint, wifi.ModeDual:
		if r.ap != nil {
			r.mode = mode
			return r.startAccessPoint()
		}
	}
	r.mode = mode
	return nil
}

func (r *Radio) StartAccessPoint(cfg wifi.AccessPointConfig) error {
	if cfg.Passphrase == "" {
		return fmt.Errorf("iwd only hosts protected access points: %w", wifi.ErrNotSupported)
	}
	r.ap = &cfg
	switch r.mode {
	case wifi.ModeOff:
		if err := r.setPowered(true); err != nil {
			return err
		}
		r.mode = wifi.ModeAccessPoint
	case wifi.ModeStation:
		r.mode = wifi.ModeDual
	}
	return r.startAccessPoint()
}

func (r *Radio) startAccessPoint() error {
	if err := r.setDeviceMode("ap"); err != nil {
		return fmt.Errorf("failed to switch to ap mode: %w", err)
	}
	device, _ := r.getDevice()
	obj := r.conn.Object(iwdDest, device)
	if r.ap.Static == nil {
		return obj.Call(iwdAccessPointIface+".Start", 0, r.ap.SSID, r.ap.Passphrase).Err
	}

	path := filepath.Join(r.stateDir(), "ap", profileName(r.ap.SSID)+".ap")
	if err := writeFile(path, accessPointProfile(*r.ap)); err != nil {
		return err
	}
	return obj.Call(iwdAccessPointIface+".StartProfile", 0, r.ap.SSID).Err
}

func (r *Radio) StopAccessPoint() error {
	if r.ap == nil {
		return nil
	}
	device, err := r.getDevice()
	if err != nil {
		return err
	}
	if r.mode.HostsAccessPoint() {
		if err := r.conn.Object(iwdDest, device).Call(iwdAccessPointIface+".Stop", 0).Err; err != nil {
			r.logger.Warn("failed to stop access point", "error", err)
		}
	}
	r.ap = nil
	switch r.mode {
	case wifi.ModeAccessPoint:
		r.mode = wifi.ModeOff
		return r.setPowered(false)
	case wifi.ModeDual:
		r.mode = wifi.ModeStation
		return r.setDeviceMode("station")
	}
	return nil
}

func (r *Radio) AccessPointAddress() (netip.Addr, error) {
	if r.ap == nil {
		return netip.Addr{}, fmt.Errorf("access point is down: %w", wifi.ErrNotAvailable)
	}
	if r.ap.Static != nil {
		return r.ap.Static.Address, nil
	}
	return interfaceAddr(r.ifname)
}

func (r *Radio) Disconnect(forget bool) error {
	r.call = nil
	r.pending = wifi.StatusDisconnected
	device, err := r.getDevice()
	if err != nil {
		return err
	}
	if r.mode == wifi.ModeStation || r.mode == wifi.ModeDual {
		// NotConnected is fine.
		_ = r.conn.Object(iwdDest, device).Call(iwdStationIface+".Disconnect", 0).Err
	}
	if !forget || r.stationCfg.SSID == "" {
		return nil
	}

	ssid := r.stationCfg.SSID
	r.stationCfg = wifi.Credentials{}
	var errs []error
	if path, err := r.findKnownNetworkPath(ssid); err != nil {
		errs = append(errs, err)
	} else if path != "" {
		errs = append(errs, r.conn.Object(iwdDest, path).Call(iwdKnownNetworkIface+".Forget", 0).Err)
	}
	for _, ext := range []string{".psk", ".open"} {
		if err := os.Remove(filepath.Join(r.stateDir(), profileName(ssid)+ext)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Radio) ConfigureStatic(cfg wifi.StaticIPConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	r.static = &cfg
	return nil
}

func (r *Radio) ConfigureDHCP() error {
	r.static = nil
	return nil
}

// Begin writes a provisioning file for the network and asks iwd to connect.
// The request is asynchronous; Status follows it.
func (r *Radio) Begin(ssid, passphrase string) error {
	if r.mode != wifi.ModeStation && r.mode != wifi.ModeDual {
		return fmt.Errorf("station is off in %s mode: %w", r.mode, wifi.ErrOperationFailed)
	}
	if ssid != "" {
		r.stationCfg = wifi.Credentials{SSID: ssid, Passphrase: passphrase}
	}
	r.call = nil
	r.pending = wifi.StatusIdle
	if r.stationCfg.SSID == "" {
		r.pending = wifi.StatusNoNetwork
		return nil
	}
	if err := r.setDeviceMode("station"); err != nil {
		return err
	}

	ext := ".open"
	if r.stationCfg.Passphrase != "" {
		ext = ".psk"
	}
	path := filepath.Join(r.stateDir(), profileName(r.stationCfg.SSID)+ext)
	if err := writeFile(path, stationProfile(r.stationCfg, r.static)); err != nil {
		return err
	}

	network, err := r.findNetworkPath(r.stationCfg.SSID)
	if err != nil {
		return err
	}
	if network == "" {
		r.logger.Info("network not in range", "ssid", r.stationCfg.SSID)
		r.pending = wifi.StatusNoNetwork
		return nil
	}
	r.call = r.conn.Object(iwdDest, network).Go(iwdNetworkIface+".Connect", 0, nil)
	return nil
}

func (r *Radio) StartWPS() error {
	if err := r.setDeviceMode("station"); err != nil {
		return err
	}
	device, err := r.getDevice()
	if err != nil {
		return err
	}
	r.pending = wifi.StatusIdle
	r.call = r.conn.Object(iwdDest, device).Go(iwdWPSIface+".PushButton", 0, nil)
	return nil
}

func (r *Radio) Status() (wifi.Status, error) {
	if r.call != nil {
		select {
		case call := <-r.call.Done:
			r.call = nil
			if call.Err != nil {
				r.logger.Debug("association failed", "error", call.Err)
				r.pending = wifi.StatusConnectFailed
				return r.pending, nil
			}
		default:
			return wifi.StatusConnecting, nil
		}
	}
	if r.pending != wifi.StatusIdle {
		return r.pending, nil
	}
	device, err := r.getDevice()
	if err != nil {
		return wifi.StatusIdle, err
	}
	stateVar, err := r.conn.Object(iwdDest, device).GetProperty(iwdStationIface + ".State")
	if err != nil {
		// The Station interface is absent in ap mode.
		return wifi.StatusIdle, nil
	}
	state, _ := stateVar.Value().(string)
	return stationStatus(state), nil
}

func stationStatus(state string) wifi.Status {
	switch state {
	case "connected":
		return wifi.StatusConnected
	case "connecting", "roaming":
		return wifi.StatusConnecting
	case "disconnected", "disconnecting":
		return wifi.StatusDisconnected
	}
	return wifi.StatusIdle
}

func (r *Radio) StationSSID() (string, error) {
	return r.stationCfg.SSID, nil
}

func (r *Radio) StationAddress() (netip.Addr, error) {
	if status, _ := r.Status(); status != wifi.StatusConnected {
		return netip.Addr{}, fmt.Errorf("station is not associated: %w", wifi.ErrNotAvailable)
	}
	return interfaceAddr(r.ifname)
}

func (r *Radio) stateDir() string {
	if r.StateDir == "" {
		return DefaultStateDir
	}
	return r.StateDir
}

func (r *Radio) findNetworkPath(ssid string) (dbus.ObjectPath, error) {
	objs, err := r.objects()
	if err != nil {
		return "", err
	}
	for path, ifaces := range objs {
		props, ok := ifaces[iwdNetworkIface]
		if !ok {
			continue
		}
		if name, ok := props["Name"].Value().(string); ok && name == ssid {
			return path, nil
		}
	}
	return "", nil
}

func (r *Radio) findKnownNetworkPath(ssid string) (dbus.ObjectPath, error) {
	objs, err := r.objects()
	if err != nil {
		return "", err
	}
	for path, ifaces := range objs {
		props, ok := ifaces[iwdKnownNetworkIface]
		if !ok {
			continue
		}
		if name, ok := props["Name"].Value().(string); ok && name == ssid {
			return path, nil
		}
	}
	return "", nil
}

// profileName encodes an SSID as an iwd storage file name: as-is when it only
// uses safe characters, otherwise "=" followed by its hex encoding.
func profileName(ssid string) string {
	for _, c := range ssid {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' || c == ' ') {
			return fmt.Sprintf("=%x", ssid)
		}
	}
	return ssid
}

func stationProfile(creds wifi.Credentials, static *wifi.StaticIPConfig) string {
	var b strings.Builder
	if creds.Passphrase != "" {
		fmt.Fprintf(&b, "[Security]\nPassphrase=%s\n\n", creds.Passphrase)
	}
	b.WriteString("[Settings]\nAutoConnect=true\n")
	if static != nil {
		fmt.Fprintf(&b, "\n[IPv4]\nAddress=%s\nNetmask=%s\nGateway=%s\n", static.Address, static.Netmask, static.Gateway)
	}
	return b.String()
}

func accessPointProfile(cfg wifi.AccessPointConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Security]\nPassphrase=%s\n", cfg.Passphrase)
	if s := cfg.Static; s != nil {
		fmt.Fprintf(&b, "\n[IPv4]\nAddress=%s\nNetmask=%s\nGateway=%s\n", s.Address, s.Netmask, s.Gateway)
	}
	return b.String()
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

func interfaceAddr(name string) (netip.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("interface %q: %w", name, wifi.ErrNotAvailable)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if addr, ok := netip.AddrFromSlice(ipnet.IP.To4()); ok && ipnet.IP.To4() != nil {
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("no ipv4 address on %q: %w", name, wifi.ErrNotAvailable)
}
