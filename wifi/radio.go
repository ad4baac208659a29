package wifi

import "net/netip"

// SecurityType represents the security protocol of a network.
type SecurityType int

const (
	SecurityUnknown SecurityType = iota
	SecurityOpen
	SecurityWEP
	SecurityWPA
)

// Encrypted reports whether joining the network needs a passphrase.
func (s SecurityType) Encrypted() bool {
	return s == SecurityWEP || s == SecurityWPA
}

// Mode is the operating mode of the radio.
type Mode int

const (
	ModeOff Mode = iota
	// ModeStation joins an existing network as a client.
	ModeStation
	// ModeAccessPoint hosts the provisioning network only.
	ModeAccessPoint
	// ModeDual hosts the provisioning network while also joining a network
	// as a client.
	ModeDual
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeStation:
		return "station"
	case ModeAccessPoint:
		return "access-point"
	case ModeDual:
		return "dual"
	}
	return "unknown"
}

// HostsAccessPoint reports whether the provisioning network is up in this mode.
func (m Mode) HostsAccessPoint() bool {
	return m == ModeAccessPoint || m == ModeDual
}

// Status is the station association state reported by the radio.
type Status int

const (
	StatusIdle Status = iota
	StatusNoNetwork
	StatusConnecting
	StatusConnected
	StatusConnectFailed
	StatusDisconnected
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusNoNetwork:
		return "no-network"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusConnectFailed:
		return "connect-failed"
	case StatusDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Settled reports whether the radio has stopped working on an association
// attempt, successfully or not.
func (s Status) Settled() bool {
	return s == StatusConnected || s == StatusConnectFailed || s == StatusNoNetwork
}

// RawNetwork is a single entry of a hardware scan, before ranking.
type RawNetwork struct {
	SSID     string
	BSSID    string
	RSSI     int // dBm
	Channel  int
	Security SecurityType
}

// AccessPointConfig describes the provisioning network hosted by the radio.
type AccessPointConfig struct {
	SSID string
	// Passphrase is empty for an open network.
	Passphrase string
	// Static overrides the radio's default addressing for the hosted network.
	Static *StaticIPConfig
}

// Radio defines the interface for driving the wireless hardware.
//
// Implementations are not required to be safe for concurrent use; the
// provisioning loop is the only caller.
type Radio interface {
	// Scan triggers a hardware scan and returns what it found, in any order.
	Scan() ([]RawNetwork, error)

	// Mode returns the current operating mode.
	Mode() (Mode, error)
	// SetMode switches the operating mode. Switching into a mode that hosts
	// the access point restarts it with the last AccessPointConfig.
	SetMode(mode Mode) error

	// StartAccessPoint brings up the provisioning network.
	StartAccessPoint(cfg AccessPointConfig) error
	// StopAccessPoint tears the provisioning network down.
	StopAccessPoint() error
	// AccessPointAddress is the radio's own address on the provisioning network.
	AccessPointAddress() (netip.Addr, error)

	// Disconnect drops the current station association. If forget is true,
	// the stored station configuration is wiped as well.
	Disconnect(forget bool) error
	// ConfigureStatic applies static addressing to the next association.
	ConfigureStatic(cfg StaticIPConfig) error
	// ConfigureDHCP requests dynamic addressing for the next association.
	ConfigureDHCP() error
	// Begin starts an association attempt. An empty ssid reconnects using the
	// radio's last known station configuration.
	Begin(ssid, passphrase string) error
	// StartWPS starts a push-button pairing attempt.
	StartWPS() error
	// Status reports the station association state.
	Status() (Status, error)

	// StationSSID is the network the station is configured for, if any.
	StationSSID() (string, error)
	// StationAddress is the station's address when associated.
	StationAddress() (netip.Addr, error)
}
