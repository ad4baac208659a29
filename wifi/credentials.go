package wifi

import (
	"fmt"
	"net/netip"
)

const (
	MaxSSIDLength       = 32
	MinPassphraseLength = 8
	MaxPassphraseLength = 63
)

// Credentials identify a network to join as a station.
type Credentials struct {
	SSID       string
	Passphrase string
}

// Validate checks the length limits imposed by the radio drivers: the SSID
// is 1-32 bytes, the passphrase is empty (open network) or 8-63 bytes.
func (c Credentials) Validate() error {
	if c.SSID == "" {
		return fmt.Errorf("empty ssid: %w", ErrInvalidCredentials)
	}
	if len(c.SSID) > MaxSSIDLength {
		return fmt.Errorf("ssid is %d bytes, max %d: %w", len(c.SSID), MaxSSIDLength, ErrInvalidCredentials)
	}
	if !ValidPassphrase(c.Passphrase) {
		return fmt.Errorf("passphrase must be empty or %d-%d bytes: %w", MinPassphraseLength, MaxPassphraseLength, ErrInvalidCredentials)
	}
	return nil
}

// ValidPassphrase reports whether p is acceptable to the radio: either empty
// or between MinPassphraseLength and MaxPassphraseLength bytes.
func ValidPassphrase(p string) bool {
	return p == "" || (len(p) >= MinPassphraseLength && len(p) <= MaxPassphraseLength)
}

// StaticIPConfig is a static IPv4 station configuration. A nil or absent
// config means DHCP.
type StaticIPConfig struct {
	Address netip.Addr
	Netmask netip.Addr
	Gateway netip.Addr
}

// ParseStaticIPConfig parses three dotted-quad strings.
func ParseStaticIPConfig(address, netmask, gateway string) (StaticIPConfig, error) {
	var cfg StaticIPConfig
	var err error
	if cfg.Address, err = parseDottedQuad(address); err != nil {
		return StaticIPConfig{}, fmt.Errorf("address: %w", err)
	}
	if cfg.Netmask, err = parseDottedQuad(netmask); err != nil {
		return StaticIPConfig{}, fmt.Errorf("netmask: %w", err)
	}
	if cfg.Gateway, err = parseDottedQuad(gateway); err != nil {
		return StaticIPConfig{}, fmt.Errorf("gateway: %w", err)
	}
	return cfg, nil
}

func parseDottedQuad(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is4() {
		return netip.Addr{}, fmt.Errorf("%q is not a dotted-quad: %w", s, ErrInvalidAddress)
	}
	return addr, nil
}

// Validate checks that all three fields are set IPv4 addresses.
func (c StaticIPConfig) Validate() error {
	for name, a := range map[string]netip.Addr{"address": c.Address, "netmask": c.Netmask, "gateway": c.Gateway} {
		if !a.Is4() {
			return fmt.Errorf("%s is not set to an IPv4 address: %w", name, ErrInvalidAddress)
		}
	}
	return nil
}

// PrefixLength converts the netmask into a CIDR prefix length. It returns -1
// when the mask bits are not contiguous.
func (c StaticIPConfig) PrefixLength() int {
	b := c.Netmask.As4()
	mask := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	ones := 0
	for mask&(1<<31) != 0 {
		ones++
		mask <<= 1
	}
	if mask != 0 {
		return -1
	}
	return ones
}
