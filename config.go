package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/shazow/wifiportal/portal"
	"github.com/shazow/wifiportal/wifi"
)

// duration lets config files spell durations the way flags do ("30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// portalTable is the [portal] table of the config file. Pointers tell a
// missing key apart from a zero value, so a file only overrides what it sets.
type portalTable struct {
	MinimumQuality      *int      `toml:"minimum_quality"`
	RemoveDuplicates    *bool     `toml:"remove_duplicates"`
	ConnectTimeout      *duration `toml:"connect_timeout"`
	ConnectPollInterval *duration `toml:"connect_poll_interval"`
	SettleDelay         *duration `toml:"settle_delay"`
	SubmitDelay         *duration `toml:"submit_delay"`
	BlinkInterval       *duration `toml:"blink_interval"`
	BreakAfterConfig    *bool     `toml:"break_after_config"`
	TryWPS              *bool     `toml:"try_wps"`
	DNSAddr             *string   `toml:"dns_addr"`

	AccessPoint *struct {
		Address string `toml:"address"`
		Netmask string `toml:"netmask"`
		Gateway string `toml:"gateway"`
	} `toml:"access_point"`

	Parameters []struct {
		ID        string `toml:"id"`
		Label     string `toml:"label"`
		Default   string `toml:"default"`
		MaxLength int    `toml:"max_length"`
	} `toml:"parameter"`
}

type configFile struct {
	Portal portalTable `toml:"portal"`
}

// LoadConfig overlays the [portal] table of the TOML file at path onto cfg,
// and returns the custom parameters it declares. If the path is empty, cfg is
// returned as is.
func LoadConfig(path string, cfg portal.Config, logger *slog.Logger) (portal.Config, []portal.Parameter, error) {
	if path == "" {
		return cfg, nil, nil
	}

	var f configFile
	meta, err := toml.DecodeFile(path, &f)
	if err != nil {
		return cfg, nil, err
	}
	for _, key := range meta.Undecoded() {
		if len(key) > 0 && key[0] == "portal" {
			logger.Warn("unknown config key", "key", strings.Join(key, "."))
		}
	}

	t := f.Portal
	if t.MinimumQuality != nil {
		cfg.MinimumQuality = *t.MinimumQuality
	}
	if t.RemoveDuplicates != nil {
		cfg.RemoveDuplicates = *t.RemoveDuplicates
	}
	if t.ConnectTimeout != nil {
		cfg.ConnectTimeout = t.ConnectTimeout.Duration
	}
	if t.ConnectPollInterval != nil {
		cfg.ConnectPollInterval = t.ConnectPollInterval.Duration
	}
	if t.SettleDelay != nil {
		cfg.SettleDelay = t.SettleDelay.Duration
	}
	if t.SubmitDelay != nil {
		cfg.SubmitDelay = t.SubmitDelay.Duration
	}
	if t.BlinkInterval != nil {
		cfg.BlinkInterval = t.BlinkInterval.Duration
	}
	if t.BreakAfterConfig != nil {
		cfg.BreakAfterConfig = *t.BreakAfterConfig
	}
	if t.TryWPS != nil {
		cfg.TryWPS = *t.TryWPS
	}
	if t.DNSAddr != nil {
		cfg.DNSAddr = *t.DNSAddr
	}
	if ap := t.AccessPoint; ap != nil {
		static, err := wifi.ParseStaticIPConfig(ap.Address, ap.Netmask, ap.Gateway)
		if err != nil {
			return cfg, nil, fmt.Errorf("portal.access_point: %w", err)
		}
		cfg.APStaticIP = &static
	}

	var params []portal.Parameter
	for _, p := range t.Parameters {
		params = append(params, portal.Parameter{ID: p.ID, Label: p.Label, Value: p.Default, MaxLength: p.MaxLength})
	}
	return cfg, params, nil
}

// tomlParser is an ff.ConfigFileParser for the top-level keys of the config
// file, which name root flags. Tables are skipped; LoadConfig reads [portal].
func tomlParser(r io.Reader, set func(name, value string) error) error {
	var m map[string]interface{}
	if _, err := toml.NewDecoder(r).Decode(&m); err != nil {
		return err
	}
	for name, v := range m {
		switch v := v.(type) {
		case map[string]interface{}, []map[string]interface{}:
			continue
		case []interface{}:
			for _, item := range v {
				if err := set(name, fmt.Sprint(item)); err != nil {
					return err
				}
			}
		default:
			if err := set(name, fmt.Sprint(v)); err != nil {
				return err
			}
		}
	}
	return nil
}
