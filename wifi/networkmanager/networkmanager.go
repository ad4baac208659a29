//go:build linux

package networkmanager

import (
	"fmt"
	"log/slog"
	"net/netip"

	gonetworkmanager "github.com/Wifx/gonetworkmanager/v3"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/shazow/wifiportal/wifi"
)

const (
	hotspotID = "wifiportal-hotspot"
	stationID = "wifiportal-station"
)

// defaultSharedAddress is what NetworkManager hands itself on a shared
// (hotspot) connection when no address is configured.
var defaultSharedAddress = netip.MustParseAddr("10.42.0.1")

// Radio implements wifi.Radio on top of NetworkManager over D-Bus.
//
// A single wireless interface cannot host the hotspot and join a network at
// the same time, so unless APInterface names a second interface, dual mode
// drops the hotspot while a station attempt runs and access-point mode brings
// it back.
type Radio struct {
	NM       gonetworkmanager.NetworkManager
	Settings gonetworkmanager.Settings
	// APInterface, when set, hosts the hotspot on a separate interface.
	APInterface string

	logger *slog.Logger
	device gonetworkmanager.DeviceWireless
	mode   wifi.Mode

	ap       *wifi.AccessPointConfig
	apActive gonetworkmanager.ActiveConnection

	station    gonetworkmanager.ActiveConnection
	stationCfg wifi.Credentials
	static     *wifi.StaticIPConfig
	// pending is reported by Status when an attempt ended before NetworkManager
	// was involved, such as a network that is not in range.
	pending wifi.Status
}

// New connects to NetworkManager on the system bus.
func New(logger *slog.Logger) (*Radio, error) {
	nm, err := gonetworkmanager.NewNetworkManager()
	if err != nil {
		return nil, fmt.Errorf("failed to create network manager client: %w", wifi.ErrNotAvailable)
	}
	settings, err := gonetworkmanager.NewSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", wifi.ErrOperationFailed)
	}
	return &Radio{
		NM:       nm,
		Settings: settings,
		logger:   logger.With("backend", "networkmanager"),
		mode:     wifi.ModeStation,
	}, nil
}

func (r *Radio) log() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}

// getWirelessDevice returns the first wireless device, caching it.
func (r *Radio) getWirelessDevice() (gonetworkmanager.DeviceWireless, error) {
	if r.device != nil {
		return r.device, nil
	}
	devices, err := r.NM.GetDevices()
	if err != nil {
		return nil, err
	}
	for _, device := range devices {
		if dev, ok := device.(gonetworkmanager.DeviceWireless); ok {
			r.device = dev
			return dev, nil
		}
	}
	return nil, fmt.Errorf("no wireless device found: %w", wifi.ErrNotFound)
}

func (r *Radio) Scan() ([]wifi.RawNetwork, error) {
	enabled, err := r.NM.GetPropertyWirelessEnabled()
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, wifi.ErrWirelessDisabled
	}
	device, err := r.getWirelessDevice()
	if err != nil {
		return nil, err
	}
	// NetworkManager rate limits scans; stale results are still useful.
	if err := device.RequestScan(); err != nil {
		r.log().Debug("scan request refused", "error", err)
	}
	aps, err := device.GetAccessPoints()
	if err != nil {
		return nil, err
	}

	networks := make([]wifi.RawNetwork, 0, len(aps))
	for _, ap := range aps {
		ssid, err := ap.GetPropertySSID()
		if err != nil {
			continue
		}
		bssid, _ := ap.GetPropertyHWAddress()
		strength, _ := ap.GetPropertyStrength()
		freq, _ := ap.GetPropertyFrequency()
		flags, _ := ap.GetPropertyFlags()
		wpaFlags, _ := ap.GetPropertyWPAFlags()
		rsnFlags, _ := ap.GetPropertyRSNFlags()

		networks = append(networks, wifi.RawNetwork{
			SSID:     ssid,
			BSSID:    bssid,
			RSSI:     wifi.RSSIOf(int(strength)),
			Channel:  channelOf(uint32(freq)),
			Security: securityOf(uint32(flags), uint32(wpaFlags), uint32(rsnFlags)),
		})
	}
	return networks, nil
}

// securityOf classifies an access point from its NetworkManager flags.
func securityOf(flags, wpaFlags, rsnFlags uint32) wifi.SecurityType {
	switch {
	case wpaFlags > 0 || rsnFlags > 0:
		return wifi.SecurityWPA
	case flags&uint32(gonetworkmanager.Nm80211APFlagsPrivacy) != 0:
		return wifi.SecurityWEP
	}
	return wifi.SecurityOpen
}

// channelOf converts a centre frequency in MHz to a channel number.
func channelOf(freq uint32) int {
	switch {
	case freq == 2484:
		return 14
	case freq >= 2412 && freq < 2484:
		return int(freq-2407) / 5
	case freq >= 5000 && freq < 5925:
		return int(freq-5000) / 5
	case freq >= 5955 && freq <= 7115:
		return int(freq-5950) / 5
	}
	return 0
}

func (r *Radio) Mode() (wifi.Mode, error) {
	return r.mode, nil
}

func (r *Radio) SetMode(mode wifi.Mode) error {
	if mode == wifi.ModeOff {
		r.deactivateStation()
		r.deactivateHotspot()
		if err := r.NM.SetPropertyWirelessEnabled(false); err != nil {
			return fmt.Errorf("failed to disable wireless: %w", err)
		}
		r.mode = mode
		return nil
	}

	enabled, err := r.NM.GetPropertyWirelessEnabled()
	if err != nil {
		return err
	}
	if !enabled {
		if err := r.NM.SetPropertyWirelessEnabled(true); err != nil {
			return fmt.Errorf("failed to enable wireless: %w", err)
		}
	}

	switch mode {
	case wifi.ModeStation:
		r.deactivateHotspot()
	case wifi.ModeAccessPoint:
		r.deactivateStation()
		if r.ap != nil && r.apActive == nil {
			if err := r.activateHotspot(); err != nil {
				return err
			}
		}
	case wifi.ModeDual:
		if r.ap != nil && r.apActive == nil && (r.APInterface != "" || r.station == nil) {
			if err := r.activateHotspot(); err != nil {
				return err
			}
		}
	}
	r.mode = mode
	return nil
}

// hotspotSettings builds the NetworkManager profile for the access point.
func hotspotSettings(iface string, cfg wifi.AccessPointConfig) map[string]map[string]interface{} {
	settings := map[string]map[string]interface{}{
		"connection": {
			"id":          hotspotID,
			"uuid":        uuid.New().String(),
			"type":        "802-11-wireless",
			"autoconnect": false,
		},
		"802-11-wireless": {
			"mode": "ap",
			"band": "bg",
			"ssid": []byte(cfg.SSID),
		},
		"ipv4": {"method": "shared"},
		"ipv6": {"method": "ignore"},
	}
	if iface != "" {
		settings["connection"]["interface-name"] = iface
	}
	if cfg.Passphrase != "" {
		settings["802-11-wireless"]["security"] = "802-11-wireless-security"
		settings["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			"psk":      cfg.Passphrase,
		}
	}
	if cfg.Static != nil {
		settings["ipv4"]["address-data"] = addressData(*cfg.Static)
	}
	return settings
}

// stationSettings builds the NetworkManager profile for joining ssid.
func stationSettings(iface string, creds wifi.Credentials, static *wifi.StaticIPConfig) map[string]map[string]interface{} {
	settings := map[string]map[string]interface{}{
		"connection": {
			"id":          stationID,
			"uuid":        uuid.New().String(),
			"type":        "802-11-wireless",
			"autoconnect": true,
		},
		"802-11-wireless": {
			"mode": "infrastructure",
			"ssid": []byte(creds.SSID),
		},
		"ipv4": {"method": "auto"},
		"ipv6": {"method": "auto"},
	}
	if iface != "" {
		settings["connection"]["interface-name"] = iface
	}
	if creds.Passphrase != "" {
		settings["802-11-wireless"]["security"] = "802-11-wireless-security"
		settings["802-11-wireless-security"] = map[string]interface{}{
			"key-mgmt": "wpa-psk",
			"psk":      creds.Passphrase,
		}
	}
	if static != nil {
		settings["ipv4"] = map[string]interface{}{
			"method":       "manual",
			"address-data": addressData(*static),
			"gateway":      static.Gateway.String(),
		}
	}
	return settings
}

// addressData encodes an address the way NetworkManager's address-data
// property expects it (aa{sv}).
func addressData(cfg wifi.StaticIPConfig) []map[string]dbus.Variant {
	prefix := cfg.PrefixLength()
	if prefix < 0 {
		prefix = 24
	}
	return []map[string]dbus.Variant{{
		"address": dbus.MakeVariant(cfg.Address.String()),
		"prefix":  dbus.MakeVariant(uint32(prefix)),
	}}
}

func (r *Radio) StartAccessPoint(cfg wifi.AccessPointConfig) error {
	r.ap = &cfg
	r.deactivateHotspot()
	switch r.mode {
	case wifi.ModeOff:
		r.mode = wifi.ModeAccessPoint
	case wifi.ModeStation:
		r.mode = wifi.ModeDual
	}
	return r.activateHotspot()
}

func (r *Radio) activateHotspot() error {
	device, err := r.getWirelessDevice()
	if err != nil {
		return err
	}
	iface := r.APInterface
	if iface == "" {
		iface, _ = device.GetPropertyInterface()
	}
	r.removeProfiles(hotspotID)

	active, err := r.NM.AddAndActivateConnection(hotspotSettings(iface, *r.ap), device)
	if err != nil {
		return fmt.Errorf("failed to activate hotspot: %w", err)
	}
	r.apActive = active
	r.log().Info("hotspot up", "ssid", r.ap.SSID, "interface", iface)
	return nil
}

func (r *Radio) deactivateHotspot() {
	if r.apActive == nil {
		return
	}
	if err := r.NM.DeactivateConnection(r.apActive); err != nil {
		r.log().Warn("failed to deactivate hotspot", "error", err)
	}
	r.apActive = nil
}

func (r *Radio) StopAccessPoint() error {
	r.deactivateHotspot()
	r.removeProfiles(hotspotID)
	r.ap = nil
	switch r.mode {
	case wifi.ModeAccessPoint:
		r.mode = wifi.ModeOff
	case wifi.ModeDual:
		r.mode = wifi.ModeStation
	}
	return nil
}

func (r *Radio) AccessPointAddress() (netip.Addr, error) {
	if r.apActive == nil {
		return netip.Addr{}, fmt.Errorf("hotspot is down: %w", wifi.ErrNotAvailable)
	}
	if r.ap != nil && r.ap.Static != nil {
		return r.ap.Static.Address, nil
	}
	if addr, err := activeAddress(r.apActive); err == nil {
		return addr, nil
	}
	return defaultSharedAddress, nil
}

func activeAddress(active gonetworkmanager.ActiveConnection) (netip.Addr, error) {
	cfg, err := active.GetPropertyIP4Config()
	if err != nil || cfg == nil {
		return netip.Addr{}, fmt.Errorf("no ipv4 configuration: %w", wifi.ErrNotAvailable)
	}
	data, err := cfg.GetPropertyAddressData()
	if err != nil || len(data) == 0 {
		return netip.Addr{}, fmt.Errorf("no ipv4 address: %w", wifi.ErrNotAvailable)
	}
	return netip.ParseAddr(data[0].Address)
}

// removeProfiles deletes saved profiles created by this radio under id.
func (r *Radio) removeProfiles(id string) {
	conns, err := r.Settings.ListConnections()
	if err != nil {
		r.log().Debug("failed to list connections", "error", err)
		return
	}
	for _, c := range conns {
		s, err := c.GetSettings()
		if err != nil {
			continue
		}
		if cid, ok := s["connection"]["id"].(string); ok && cid == id {
			if err := c.Delete(); err != nil {
				r.log().Warn("failed to delete profile", "id", id, "error", err)
			}
		}
	}
}

func (r *Radio) deactivateStation() {
	if r.station == nil {
		return
	}
	if err := r.NM.DeactivateConnection(r.station); err != nil {
		r.log().Debug("failed to deactivate station", "error", err)
	}
	r.station = nil
}

func (r *Radio) Disconnect(forget bool) error {
	r.deactivateStation()
	r.pending = wifi.StatusDisconnected
	if forget {
		r.removeProfiles(stationID)
		r.stationCfg = wifi.Credentials{}
	}
	return nil
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

// findAccessPoint returns the strongest visible access point for ssid.
func (r *Radio) findAccessPoint(device gonetworkmanager.DeviceWireless, ssid string) (gonetworkmanager.AccessPoint, error) {
	aps, err := device.GetAccessPoints()
	if err != nil {
		return nil, err
	}
	var best gonetworkmanager.AccessPoint
	var bestStrength uint8
	for _, ap := range aps {
		s, err := ap.GetPropertySSID()
		if err != nil || s != ssid {
			continue
		}
		strength, _ := ap.GetPropertyStrength()
		if best == nil || strength > bestStrength {
			best, bestStrength = ap, strength
		}
	}
	return best, nil
}

// Begin adds a fresh station profile and activates it. It returns as soon as
// NetworkManager accepts the request; Status tracks the outcome.
func (r *Radio) Begin(ssid, passphrase string) error {
	if r.mode != wifi.ModeStation && r.mode != wifi.ModeDual {
		return fmt.Errorf("station is off in %s mode: %w", r.mode, wifi.ErrOperationFailed)
	}
	creds := wifi.Credentials{SSID: ssid, Passphrase: passphrase}
	if ssid == "" {
		creds = r.stationCfg
	} else {
		r.stationCfg = creds
	}
	r.deactivateStation()
	r.pending = wifi.StatusIdle
	if creds.SSID == "" {
		r.pending = wifi.StatusNoNetwork
		return nil
	}

	device, err := r.getWirelessDevice()
	if err != nil {
		return err
	}
	ap, err := r.findAccessPoint(device, creds.SSID)
	if err != nil {
		return err
	}
	if ap == nil {
		r.log().Info("network not in range", "ssid", creds.SSID)
		r.pending = wifi.StatusNoNetwork
		return nil
	}

	if r.APInterface == "" {
		r.deactivateHotspot()
	}
	r.removeProfiles(stationID)
	iface, _ := device.GetPropertyInterface()
	active, err := r.NM.AddAndActivateWirelessConnection(stationSettings(iface, creds, r.static), device, ap)
	if err != nil {
		return fmt.Errorf("failed to activate %q: %w", creds.SSID, err)
	}
	r.station = active
	return nil
}

// StartWPS is not available: NetworkManager only does push-button pairing
// for a profile that already names the network.
func (r *Radio) StartWPS() error {
	return fmt.Errorf("wps push-button: %w", wifi.ErrNotSupported)
}

func (r *Radio) Status() (wifi.Status, error) {
	if r.station == nil {
		return r.pending, nil
	}
	state, err := r.station.GetPropertyState()
	if err != nil {
		// The active connection object disappears once activation fails.
		r.station = nil
		r.pending = wifi.StatusConnectFailed
		return r.pending, nil
	}
	switch state {
	case gonetworkmanager.NmActiveConnectionStateActivated:
		return wifi.StatusConnected, nil
	case gonetworkmanager.NmActiveConnectionStateActivating:
		return wifi.StatusConnecting, nil
	case gonetworkmanager.NmActiveConnectionStateDeactivating, gonetworkmanager.NmActiveConnectionStateDeactivated:
		r.station = nil
		r.pending = wifi.StatusConnectFailed
		return r.pending, nil
	}
	return wifi.StatusIdle, nil
}

func (r *Radio) StationSSID() (string, error) {
	return r.stationCfg.SSID, nil
}

func (r *Radio) StationAddress() (netip.Addr, error) {
	if r.station == nil {
		return netip.Addr{}, fmt.Errorf("station is not associated: %w", wifi.ErrNotAvailable)
	}
	return activeAddress(r.station)
}
