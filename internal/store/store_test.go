package store

import (
	"io"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazow/wifiportal/wifi"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writeRecord(t *testing.T, s *Store, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), name), []byte(content), 0o600))
}

func TestCredentialsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.Load()
	assert.False(t, ok, "empty store should have no credentials")

	want := wifi.Credentials{SSID: "home", Passphrase: "12345678"}
	require.NoError(t, s.Save(want))

	got, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, want, got)

	data, err := os.ReadFile(filepath.Join(s.Dir(), CredentialsFile))
	require.NoError(t, err)
	assert.Equal(t, "home;12345678;", string(data))

	// Open network.
	require.NoError(t, s.Save(wifi.Credentials{SSID: "cafe"}))
	got, ok = s.Load()
	require.True(t, ok)
	assert.Equal(t, wifi.Credentials{SSID: "cafe"}, got)
}

func TestSaveRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	err := s.Save(wifi.Credentials{SSID: "home", Passphrase: "short"})
	assert.ErrorIs(t, err, wifi.ErrInvalidCredentials)
	_, ok := s.Load()
	assert.False(t, ok)
}

func TestLoadCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"no delimiter", "home"},
		{"one field", "home;"},
		{"empty ssid", ";12345678;"},
		{"bad passphrase", "home;123;"},
		{"blank lines", "\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			writeRecord(t, s, CredentialsFile, tt.content)
			_, ok := s.Load()
			assert.False(t, ok)
		})
	}
}

func TestLoadUsesLastLine(t *testing.T) {
	s := newTestStore(t)
	writeRecord(t, s, CredentialsFile, "old;11111111;\nnew;22222222;\r\n")
	got, ok := s.Load()
	require.True(t, ok)
	assert.Equal(t, wifi.Credentials{SSID: "new", Passphrase: "22222222"}, got)
}

func TestDelimiterInValueCorrupts(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Save(wifi.Credentials{SSID: "semi;colon", Passphrase: "12345678"}))
	got, ok := s.Load()
	if ok {
		assert.NotEqual(t, "semi;colon", got.SSID)
	}
}

func TestIPConfigRoundTrip(t *testing.T) {
	s := newTestStore(t)

	_, ok := s.LoadIPConfig()
	assert.False(t, ok, "missing record means dhcp")

	cfg := wifi.StaticIPConfig{
		Address: netip.MustParseAddr("192.168.1.50"),
		Netmask: netip.MustParseAddr("255.255.255.0"),
		Gateway: netip.MustParseAddr("192.168.1.1"),
	}
	require.NoError(t, s.SaveIPConfig(&cfg))

	data, err := os.ReadFile(filepath.Join(s.Dir(), IPConfigFile))
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50;255.255.255.0;192.168.1.1;", string(data))

	got, ok := s.LoadIPConfig()
	require.True(t, ok)
	assert.Equal(t, cfg, got)

	require.NoError(t, s.SaveIPConfig(nil))
	_, ok = s.LoadIPConfig()
	assert.False(t, ok, "cleared record means dhcp")
}

func TestIPConfigCorrupt(t *testing.T) {
	s := newTestStore(t)
	writeRecord(t, s, IPConfigFile, "192.168.1.50;255.255.255.0;")
	_, ok := s.LoadIPConfig()
	assert.False(t, ok)

	writeRecord(t, s, IPConfigFile, "192.168.1.500;255.255.255.0;192.168.1.1;")
	_, ok = s.LoadIPConfig()
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Clear(), "clearing an empty store is fine")

	require.NoError(t, s.Save(wifi.Credentials{SSID: "home", Passphrase: "12345678"}))
	cfg, err := wifi.ParseStaticIPConfig("10.0.0.2", "255.0.0.0", "10.0.0.1")
	require.NoError(t, err)
	require.NoError(t, s.SaveIPConfig(&cfg))

	require.NoError(t, s.Clear())
	_, ok := s.Load()
	assert.False(t, ok)
	_, ok = s.LoadIPConfig()
	assert.False(t, ok)
}

func TestUnavailableMedium(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	// The store directory cannot be created beneath a regular file.
	s := New(filepath.Join(blocker, "store"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, s.Save(wifi.Credentials{SSID: "home"}))
	_, ok := s.Load()
	assert.False(t, ok)
}
