// Package store persists the station credentials and static addressing on
// the device between boots.
//
// Each record is a single line of semicolon-terminated fields:
//
//	wifi.txt  ssid;passphrase;
//	ip.txt    address;netmask;gateway;
//
// Delimiters are not escaped, so a value containing ';' cannot round-trip.
// A missing, empty or unparseable record reads back as absent.
package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/shazow/wifiportal/wifi"
)

const (
	CredentialsFile = "wifi.txt"
	IPConfigFile    = "ip.txt"
)

// Store keeps the records as files in a directory.
type Store struct {
	dir    string
	logger *slog.Logger
}

// New returns a Store rooted at dir. The directory is created on first write.
func New(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger.With("component", "store")}
}

// Dir is the directory holding the records.
func (s *Store) Dir() string {
	return s.dir
}

// Load returns the saved credentials, if there are any usable ones.
func (s *Store) Load() (wifi.Credentials, bool) {
	fields, ok := s.read(CredentialsFile, 2)
	if !ok {
		return wifi.Credentials{}, false
	}
	creds := wifi.Credentials{SSID: fields[0], Passphrase: fields[1]}
	if err := creds.Validate(); err != nil {
		s.logger.Warn("ignoring corrupt credentials record", "error", err)
		return wifi.Credentials{}, false
	}
	return creds, true
}

// Save replaces the saved credentials.
func (s *Store) Save(creds wifi.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	if err := s.write(CredentialsFile, creds.SSID, creds.Passphrase); err != nil {
		s.logger.Error("failed to save credentials", "error", err)
		return err
	}
	s.logger.Info("saved credentials", "ssid", creds.SSID)
	return nil
}

// LoadIPConfig returns the saved static addressing. Absent means DHCP.
func (s *Store) LoadIPConfig() (wifi.StaticIPConfig, bool) {
	fields, ok := s.read(IPConfigFile, 3)
	if !ok {
		return wifi.StaticIPConfig{}, false
	}
	cfg, err := wifi.ParseStaticIPConfig(fields[0], fields[1], fields[2])
	if err != nil {
		s.logger.Warn("ignoring corrupt ip record", "error", err)
		return wifi.StaticIPConfig{}, false
	}
	return cfg, true
}

// SaveIPConfig replaces the saved static addressing. A nil config clears the
// record, which switches the station back to DHCP.
func (s *Store) SaveIPConfig(cfg *wifi.StaticIPConfig) error {
	var err error
	if cfg == nil {
		err = s.write(IPConfigFile)
	} else {
		if err := cfg.Validate(); err != nil {
			return err
		}
		err = s.write(IPConfigFile, cfg.Address.String(), cfg.Netmask.String(), cfg.Gateway.String())
	}
	if err != nil {
		s.logger.Error("failed to save ip configuration", "error", err)
		return err
	}
	if cfg == nil {
		s.logger.Info("cleared static ip, using dhcp")
	} else {
		s.logger.Info("saved static ip", "address", cfg.Address, "netmask", cfg.Netmask, "gateway", cfg.Gateway)
	}
	return nil
}

// Clear removes both records.
func (s *Store) Clear() error {
	var errs []error
	for _, name := range []string{CredentialsFile, IPConfigFile} {
		err := os.Remove(filepath.Join(s.dir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("failed to clear records", "error", err)
		return err
	}
	s.logger.Info("cleared saved records")
	return nil
}

// read returns the first n fields of the last non-empty line of the named
// record, or false if the record is missing or has too few fields.
func (s *Store) read(name string, n int) ([]string, bool) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Debug("no saved record", "file", name)
		return nil, false
	}
	if err != nil {
		s.logger.Warn("failed to read record", "file", name, "error", err)
		return nil, false
	}

	var line string
	for _, l := range strings.Split(string(data), "\n") {
		if l = strings.TrimRight(l, "\r"); l != "" {
			line = l
		}
	}
	if line == "" {
		return nil, false
	}

	// A complete record has n terminated fields, so splitting yields n+1
	// parts with an empty tail.
	fields := strings.Split(line, ";")
	if len(fields) < n+1 {
		s.logger.Warn("ignoring truncated record", "file", name, "fields", len(fields)-1, "want", n)
		return nil, false
	}
	return fields[:n], true
}

// write replaces the named record with fields, each terminated by ';'.
// The data goes to a temporary file that is renamed over the record, which
// narrows but does not close the window for a torn write.
func (s *Store) write(name string, fields ...string) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	var b strings.Builder
	for _, f := range fields {
		b.WriteString(f)
		b.WriteString(";")
	}

	tmp, err := os.CreateTemp(s.dir, name+".*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(b.String()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}
