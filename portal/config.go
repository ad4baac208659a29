package portal

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/shazow/wifiportal/wifi"
)

const (
	// DefaultMinimumQuality disables the scan quality filter.
	DefaultMinimumQuality      = -1
	DefaultConnectTimeout      = 30 * time.Second
	DefaultPollInterval        = 20 * time.Millisecond
	DefaultConnectPollInterval = 100 * time.Millisecond
	DefaultSettleDelay         = 500 * time.Millisecond
	DefaultSubmitDelay         = 2 * time.Second
	DefaultDNSAddr             = ":53"
	// DefaultBlinkInterval toggles the indicator at 1Hz.
	DefaultBlinkInterval = 500 * time.Millisecond
)

// Config tunes a Portal. Zero durations are meaningful for some fields, so
// start from DefaultConfig rather than a zero value.
type Config struct {
	// MinimumQuality hides scanned networks below this 0-100 score. Negative
	// disables the filter.
	MinimumQuality   int
	RemoveDuplicates bool

	// ConnectTimeout bounds each connection attempt. Zero waits until the
	// radio settles on an outcome.
	ConnectTimeout      time.Duration
	ConnectPollInterval time.Duration
	// PollInterval is the pause between loop iterations in Run.
	PollInterval time.Duration
	// SettleDelay is how long the access point gets before its address is read.
	SettleDelay time.Duration
	// SubmitDelay runs before a submitted connect so the HTTP response can flush.
	SubmitDelay   time.Duration
	BlinkInterval time.Duration

	// BreakAfterConfig closes the portal after the first processed submission,
	// whether or not it connected.
	BreakAfterConfig bool
	// TryWPS falls back to push-button pairing when a passphrase-less
	// attempt fails.
	TryWPS bool

	// APStaticIP overrides the access point's own addressing.
	APStaticIP *wifi.StaticIPConfig
	// DNSAddr is where the captive DNS redirect listens. Empty disables it.
	DNSAddr string
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		MinimumQuality:      DefaultMinimumQuality,
		RemoveDuplicates:    true,
		ConnectTimeout:      DefaultConnectTimeout,
		ConnectPollInterval: DefaultConnectPollInterval,
		PollInterval:        DefaultPollInterval,
		SettleDelay:         DefaultSettleDelay,
		SubmitDelay:         DefaultSubmitDelay,
		BlinkInterval:       DefaultBlinkInterval,
		DNSAddr:             DefaultDNSAddr,
	}
}

// Parameter is an extra form field collected alongside the credentials, for
// settings the application stores itself (an MQTT host, a device name).
type Parameter struct {
	ID    string
	Label string
	Value string
	// MaxLength caps Value in bytes. Zero means unlimited.
	MaxLength int
}

func (p *Parameter) set(v string) {
	p.Value = truncate(v, p.MaxLength)
}

// truncate shortens s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	s = s[:n]
	for i := 0; i < utf8.UTFMax-1 && len(s) > 0; i++ {
		if r, _ := utf8.DecodeLastRuneInString(s); r != utf8.RuneError {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}

func validateParameter(p Parameter) error {
	if p.ID == "" {
		return fmt.Errorf("parameter needs an id")
	}
	switch p.ID {
	case "s", "p":
		return fmt.Errorf("parameter id %q is reserved for credentials", p.ID)
	}
	return nil
}
