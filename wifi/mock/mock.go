package mock

import (
	"fmt"
	"math/rand"
	"net/netip"
	"time"

	"github.com/shazow/wifiportal/wifi"
)

var DefaultActionSleep = 100 * time.Millisecond

// DefaultAccessPointAddress is where the simulated radio hosts the portal.
var DefaultAccessPointAddress = netip.MustParseAddr("192.168.4.1")

// DefaultStationAddress is handed out by the simulated DHCP server.
var DefaultStationAddress = netip.MustParseAddr("192.168.1.100")

// MockRadio is a simulated wifi.Radio for testing and demos.
//
// An association attempt succeeds when the SSID is visible and the
// passphrase matches Secrets. The outcome is reported after ConnectPolls
// calls to Status have returned StatusConnecting.
type MockRadio struct {
	Networks []wifi.RawNetwork
	// Secrets holds the passphrase each network accepts. Open networks
	// accept the empty passphrase.
	Secrets map[string]string
	// WPSNetwork is the network that answers a push-button pairing, if any.
	WPSNetwork   string
	ConnectPolls int

	CurrentMode    wifi.Mode
	AccessPoint    *wifi.AccessPointConfig
	APAddress      netip.Addr
	StationConfig  wifi.Credentials
	Static         *wifi.StaticIPConfig
	StationIP      netip.Addr
	CurrentStatus  wifi.Status
	pendingPolls   int
	pendingOutcome wifi.Status

	// Calls records every method invoked, in order.
	Calls []string

	ScanError     error
	SetModeError  error
	StartAPError  error
	BeginError    error
	StartWPSError error
	StatusError   error

	// ActionSleep is a delay before every action, to better emulate real
	// hardware for a frontend. Set to 0 during testing.
	ActionSleep time.Duration
}

// New creates a new MockRadio surrounded by a list of fun wifi networks.
func New() (wifi.Radio, error) {
	networks := []wifi.RawNetwork{
		{SSID: "HideYoKidsHideYoWiFi", RSSI: -48, Security: wifi.SecurityWPA},
		{SSID: "GET off my LAN", RSSI: -71, Security: wifi.SecurityWPA},
		{SSID: "NeverGonnaGiveYouIP", RSSI: -83, Security: wifi.SecurityWEP},
		{SSID: "Unencrypted_Honeypot", RSSI: -60, Security: wifi.SecurityOpen},
		{SSID: "Dunder MiffLAN", RSSI: -77, Security: wifi.SecurityWPA},
		{SSID: "Police Surveillance 2", RSSI: -76, Security: wifi.SecurityWPA},
		{SSID: "Password is password", RSSI: -57, Security: wifi.SecurityWPA},
		{SSID: "TacoBoutAGoodSignal", RSSI: -41, Security: wifi.SecurityWPA},
		{SSID: "Multi-AP Network", BSSID: "00:11:22:33:44:55", RSSI: -60, Channel: 1, Security: wifi.SecurityWPA},
		{SSID: "Multi-AP Network", BSSID: "AA:BB:CC:DD:EE:FF", RSSI: -70, Channel: 36, Security: wifi.SecurityWPA},
		{SSID: "Multi-AP Network", BSSID: "11:22:33:44:55:66", RSSI: -80, Channel: 48, Security: wifi.SecurityWPA},
		{SSID: "I See Dead Packets", RSSI: -97, Security: wifi.SecurityWEP},
	}
	secrets := map[string]string{
		"Password is password": "password",
		"HideYoKidsHideYoWiFi": "hidden-kids",
		"Multi-AP Network":     "multimulti",
		"Unencrypted_Honeypot": "",
	}

	return &MockRadio{
		Networks:     networks,
		Secrets:      secrets,
		WPSNetwork:   "TacoBoutAGoodSignal",
		ConnectPolls: 3,
		APAddress:    DefaultAccessPointAddress,
		ActionSleep:  DefaultActionSleep,
	}, nil
}

func (m *MockRadio) act(call string) {
	time.Sleep(m.ActionSleep)
	m.Calls = append(m.Calls, call)
}

// Called reports how many times the named method was invoked.
func (m *MockRadio) Called(name string) int {
	n := 0
	for _, c := range m.Calls {
		if c == name {
			n++
		}
	}
	return n
}

func (m *MockRadio) visible(ssid string) bool {
	for _, n := range m.Networks {
		if n.SSID == ssid {
			return true
		}
	}
	return false
}

func (m *MockRadio) Scan() ([]wifi.RawNetwork, error) {
	m.act("Scan")
	if m.ScanError != nil {
		return nil, m.ScanError
	}
	if m.CurrentMode == wifi.ModeOff {
		return nil, wifi.ErrWirelessDisabled
	}
	// Jitter the signal a little on each scan, like the real thing.
	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	out := make([]wifi.RawNetwork, len(m.Networks))
	for i, n := range m.Networks {
		n.RSSI += r.Intn(3) - 1
		out[i] = n
	}
	return out, nil
}

func (m *MockRadio) Mode() (wifi.Mode, error) {
	m.act("Mode")
	return m.CurrentMode, nil
}

func (m *MockRadio) SetMode(mode wifi.Mode) error {
	m.act("SetMode")
	if m.SetModeError != nil {
		return m.SetModeError
	}
	if mode == wifi.ModeOff || mode == wifi.ModeAccessPoint {
		m.dropStation()
	}
	m.CurrentMode = mode
	return nil
}

func (m *MockRadio) StartAccessPoint(cfg wifi.AccessPointConfig) error {
	m.act("StartAccessPoint")
	if m.StartAPError != nil {
		return m.StartAPError
	}
	m.AccessPoint = &cfg
	if cfg.Static != nil {
		m.APAddress = cfg.Static.Address
	}
	switch m.CurrentMode {
	case wifi.ModeOff:
		m.CurrentMode = wifi.ModeAccessPoint
	case wifi.ModeStation:
		m.CurrentMode = wifi.ModeDual
	}
	return nil
}

func (m *MockRadio) StopAccessPoint() error {
	m.act("StopAccessPoint")
	m.AccessPoint = nil
	switch m.CurrentMode {
	case wifi.ModeAccessPoint:
		m.CurrentMode = wifi.ModeOff
	case wifi.ModeDual:
		m.CurrentMode = wifi.ModeStation
	}
	return nil
}

func (m *MockRadio) AccessPointAddress() (netip.Addr, error) {
	m.act("AccessPointAddress")
	if !m.CurrentMode.HostsAccessPoint() {
		return netip.Addr{}, fmt.Errorf("access point is down: %w", wifi.ErrNotAvailable)
	}
	return m.APAddress, nil
}

func (m *MockRadio) dropStation() {
	m.CurrentStatus = wifi.StatusDisconnected
	m.StationIP = netip.Addr{}
	m.pendingPolls = 0
	m.pendingOutcome = wifi.StatusDisconnected
}

func (m *MockRadio) Disconnect(forget bool) error {
	m.act("Disconnect")
	m.dropStation()
	if forget {
		m.StationConfig = wifi.Credentials{}
	}
	return nil
}

func (m *MockRadio) ConfigureStatic(cfg wifi.StaticIPConfig) error {
	m.act("ConfigureStatic")
	m.Static = &cfg
	return nil
}

func (m *MockRadio) ConfigureDHCP() error {
	m.act("ConfigureDHCP")
	m.Static = nil
	return nil
}

func (m *MockRadio) startAttempt(outcome wifi.Status) {
	m.CurrentStatus = wifi.StatusConnecting
	m.pendingPolls = m.ConnectPolls
	m.pendingOutcome = outcome
}

func (m *MockRadio) Begin(ssid, passphrase string) error {
	m.act("Begin")
	if m.BeginError != nil {
		return m.BeginError
	}
	if m.CurrentMode != wifi.ModeStation && m.CurrentMode != wifi.ModeDual {
		return fmt.Errorf("station is off in %s mode: %w", m.CurrentMode, wifi.ErrOperationFailed)
	}
	if ssid == "" {
		ssid, passphrase = m.StationConfig.SSID, m.StationConfig.Passphrase
		if ssid == "" {
			m.startAttempt(wifi.StatusNoNetwork)
			return nil
		}
	} else {
		m.StationConfig = wifi.Credentials{SSID: ssid, Passphrase: passphrase}
	}

	secret, known := m.Secrets[ssid]
	switch {
	case !m.visible(ssid):
		m.startAttempt(wifi.StatusNoNetwork)
	case !known || secret != passphrase:
		m.startAttempt(wifi.StatusConnectFailed)
	default:
		m.startAttempt(wifi.StatusConnected)
	}
	return nil
}

func (m *MockRadio) StartWPS() error {
	m.act("StartWPS")
	if m.StartWPSError != nil {
		return m.StartWPSError
	}
	if m.WPSNetwork == "" || !m.visible(m.WPSNetwork) {
		m.startAttempt(wifi.StatusConnectFailed)
		return nil
	}
	m.StationConfig = wifi.Credentials{SSID: m.WPSNetwork, Passphrase: m.Secrets[m.WPSNetwork]}
	m.startAttempt(wifi.StatusConnected)
	return nil
}

func (m *MockRadio) Status() (wifi.Status, error) {
	m.act("Status")
	if m.StatusError != nil {
		return wifi.StatusIdle, m.StatusError
	}
	if m.CurrentStatus != wifi.StatusConnecting {
		return m.CurrentStatus, nil
	}
	if m.pendingPolls > 0 {
		m.pendingPolls--
		return wifi.StatusConnecting, nil
	}
	m.CurrentStatus = m.pendingOutcome
	if m.CurrentStatus == wifi.StatusConnected {
		m.StationIP = DefaultStationAddress
		if m.Static != nil {
			m.StationIP = m.Static.Address
		}
	}
	return m.CurrentStatus, nil
}

func (m *MockRadio) StationSSID() (string, error) {
	m.act("StationSSID")
	return m.StationConfig.SSID, nil
}

func (m *MockRadio) StationAddress() (netip.Addr, error) {
	m.act("StationAddress")
	if m.CurrentStatus != wifi.StatusConnected {
		return netip.Addr{}, fmt.Errorf("station is not associated: %w", wifi.ErrNotAvailable)
	}
	return m.StationIP, nil
}
