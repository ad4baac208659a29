package portal

import (
	"net/netip"
	"time"

	"github.com/shazow/wifiportal/wifi"
)

// Status is a point-in-time view of the portal for status pages. It never
// carries a passphrase.
type Status struct {
	Mode        Mode
	LastOutcome Outcome
	LastError   string
	CloseReason CloseReason
	// Remaining is zero when the session has no timeout.
	Remaining time.Duration

	AccessPointSSID string
	AccessPointAddr netip.Addr
	RadioMode       wifi.Mode
	RadioStatus     wifi.Status
	StationSSID     string
	StationAddr     netip.Addr

	// StoredSSID is the saved network, empty when nothing is saved.
	StoredSSID    string
	HasPassphrase bool
	// IPConfig is nil when the station uses DHCP.
	IPConfig *wifi.StaticIPConfig

	// Networks is the most recent scan, if any.
	Networks wifi.ScanResult
}

// Status queries the radio and the store. Call it from the loop goroutine,
// or through Do.
func (p *Portal) Status() Status {
	s := Status{
		Mode:            p.session.Mode,
		LastOutcome:     p.session.LastOutcome,
		CloseReason:     p.session.CloseReason,
		AccessPointSSID: p.apSSID,
		AccessPointAddr: p.apAddr,
		Networks:        p.lastScan,
	}
	if p.session.LastError != nil {
		s.LastError = p.session.LastError.Error()
	}
	if p.session.Timeout > 0 && p.session.Mode != Closed {
		s.Remaining = max(p.session.Timeout-p.clock.Now().Sub(p.session.Started), 0)
	}

	if mode, err := p.radio.Mode(); err == nil {
		s.RadioMode = mode
	}
	if status, err := p.radio.Status(); err == nil {
		s.RadioStatus = status
	}
	if ssid, err := p.radio.StationSSID(); err == nil {
		s.StationSSID = ssid
	}
	if s.RadioStatus == wifi.StatusConnected {
		if addr, err := p.radio.StationAddress(); err == nil {
			s.StationAddr = addr
		}
	}

	if creds, ok := p.store.Load(); ok {
		s.StoredSSID = creds.SSID
		s.HasPassphrase = creds.Passphrase != ""
	}
	if cfg, ok := p.store.LoadIPConfig(); ok {
		s.IPConfig = &cfg
	}
	return s
}
