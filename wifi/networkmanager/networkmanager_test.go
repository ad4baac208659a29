//go:build linux

package networkmanager

import (
	"errors"
	"net/netip"
	"testing"

	gonetworkmanager "github.com/Wifx/gonetworkmanager/v3"
	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazow/wifiportal/wifi"
)

type mockNM struct {
	gonetworkmanager.NetworkManager
	getDevicesFunc                 func() ([]gonetworkmanager.Device, error)
	getPropertyWirelessEnabledFunc func() (bool, error)
}

func (m *mockNM) GetDevices() ([]gonetworkmanager.Device, error) {
	if m.getDevicesFunc != nil {
		return m.getDevicesFunc()
	}
	return nil, nil
}

func (m *mockNM) GetPropertyWirelessEnabled() (bool, error) {
	if m.getPropertyWirelessEnabledFunc != nil {
		return m.getPropertyWirelessEnabledFunc()
	}
	return true, nil
}

type mockDeviceWireless struct {
	gonetworkmanager.DeviceWireless
	aps   []gonetworkmanager.AccessPoint
	scans int
}

func (m *mockDeviceWireless) RequestScan() error {
	m.scans++
	return errors.New("scan rate limited")
}

func (m *mockDeviceWireless) GetAccessPoints() ([]gonetworkmanager.AccessPoint, error) {
	return m.aps, nil
}

func (m *mockDeviceWireless) GetPropertyInterface() (string, error) {
	return "wlan0", nil
}

type mockAccessPoint struct {
	gonetworkmanager.AccessPoint
	ssid     string
	bssid    string
	strength uint8
	freq     uint32
	flags    uint32
	rsnFlags uint32
}

func (m *mockAccessPoint) GetPropertySSID() (string, error)      { return m.ssid, nil }
func (m *mockAccessPoint) GetPropertyHWAddress() (string, error) { return m.bssid, nil }
func (m *mockAccessPoint) GetPropertyStrength() (uint8, error)   { return m.strength, nil }
func (m *mockAccessPoint) GetPropertyFrequency() (uint32, error) { return m.freq, nil }
func (m *mockAccessPoint) GetPropertyFlags() (uint32, error)     { return m.flags, nil }
func (m *mockAccessPoint) GetPropertyWPAFlags() (uint32, error)  { return 0, nil }
func (m *mockAccessPoint) GetPropertyRSNFlags() (uint32, error)  { return m.rsnFlags, nil }

func newTestRadio(dev *mockDeviceWireless) *Radio {
	return &Radio{
		NM: &mockNM{
			getDevicesFunc: func() ([]gonetworkmanager.Device, error) {
				return []gonetworkmanager.Device{dev}, nil
			},
		},
		mode: wifi.ModeStation,
	}
}

func TestGetWirelessDevice_Caching(t *testing.T) {
	callCount := 0
	mockDev := &mockDeviceWireless{}

	r := &Radio{
		NM: &mockNM{
			getDevicesFunc: func() ([]gonetworkmanager.Device, error) {
				callCount++
				return []gonetworkmanager.Device{mockDev}, nil
			},
		},
	}

	dev, err := r.getWirelessDevice()
	require.NoError(t, err)
	assert.Same(t, mockDev, dev)

	dev, err = r.getWirelessDevice()
	require.NoError(t, err)
	assert.Same(t, mockDev, dev)
	assert.Equal(t, 1, callCount, "device lookup is cached")
}

func TestGetWirelessDevice_None(t *testing.T) {
	r := &Radio{NM: &mockNM{}}
	_, err := r.getWirelessDevice()
	assert.ErrorIs(t, err, wifi.ErrNotFound)
}

func TestScan(t *testing.T) {
	dev := &mockDeviceWireless{aps: []gonetworkmanager.AccessPoint{
		&mockAccessPoint{ssid: "HomeNet", bssid: "aa:bb:cc:dd:ee:ff", strength: 80, freq: 2437, rsnFlags: 0x188},
		&mockAccessPoint{ssid: "Cafe", bssid: "11:22:33:44:55:66", strength: 30, freq: 5180},
	}}
	r := newTestRadio(dev)

	networks, err := r.Scan()
	require.NoError(t, err)
	assert.Equal(t, 1, dev.scans)
	assert.Equal(t, []wifi.RawNetwork{
		{SSID: "HomeNet", BSSID: "aa:bb:cc:dd:ee:ff", RSSI: -60, Channel: 6, Security: wifi.SecurityWPA},
		{SSID: "Cafe", BSSID: "11:22:33:44:55:66", RSSI: -85, Channel: 36, Security: wifi.SecurityOpen},
	}, networks)
}

func TestScan_WirelessDisabled(t *testing.T) {
	r := &Radio{NM: &mockNM{
		getPropertyWirelessEnabledFunc: func() (bool, error) { return false, nil },
	}}
	_, err := r.Scan()
	assert.ErrorIs(t, err, wifi.ErrWirelessDisabled)
}

func TestBegin_OutOfRange(t *testing.T) {
	dev := &mockDeviceWireless{aps: []gonetworkmanager.AccessPoint{
		&mockAccessPoint{ssid: "Neighbour", strength: 50, freq: 2412},
	}}
	r := newTestRadio(dev)

	require.NoError(t, r.Begin("HomeNet", "password"))
	status, err := r.Status()
	require.NoError(t, err)
	assert.Equal(t, wifi.StatusNoNetwork, status)

	ssid, err := r.StationSSID()
	require.NoError(t, err)
	assert.Equal(t, "HomeNet", ssid)
}

func TestBegin_NothingToReconnect(t *testing.T) {
	r := newTestRadio(&mockDeviceWireless{})
	require.NoError(t, r.Begin("", ""))
	status, _ := r.Status()
	assert.Equal(t, wifi.StatusNoNetwork, status)
}

func TestBegin_StationOff(t *testing.T) {
	r := newTestRadio(&mockDeviceWireless{})
	r.mode = wifi.ModeAccessPoint
	assert.ErrorIs(t, r.Begin("HomeNet", "password"), wifi.ErrOperationFailed)
}

func TestStartWPS(t *testing.T) {
	r := newTestRadio(&mockDeviceWireless{})
	assert.ErrorIs(t, r.StartWPS(), wifi.ErrNotSupported)
}

func TestSecurityOf(t *testing.T) {
	tests := []struct {
		name                 string
		flags, wpaFlags, rsn uint32
		want                 wifi.SecurityType
	}{
		{"open", 0, 0, 0, wifi.SecurityOpen},
		{"wep", uint32(gonetworkmanager.Nm80211APFlagsPrivacy), 0, 0, wifi.SecurityWEP},
		{"wpa", uint32(gonetworkmanager.Nm80211APFlagsPrivacy), 0x144, 0, wifi.SecurityWPA},
		{"wpa2", uint32(gonetworkmanager.Nm80211APFlagsPrivacy), 0, 0x188, wifi.SecurityWPA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, securityOf(tt.flags, tt.wpaFlags, tt.rsn))
		})
	}
}

func TestChannelOf(t *testing.T) {
	tests := map[uint32]int{
		2412: 1,
		2437: 6,
		2472: 13,
		2484: 14,
		5180: 36,
		5825: 165,
		5955: 1,
		900:  0,
	}
	for freq, want := range tests {
		assert.Equal(t, want, channelOf(freq), "frequency %d", freq)
	}
}

func TestHotspotSettings(t *testing.T) {
	static, err := wifi.ParseStaticIPConfig("10.0.1.1", "255.255.255.0", "10.0.1.1")
	require.NoError(t, err)

	s := hotspotSettings("wlan0", wifi.AccessPointConfig{SSID: "setup", Passphrase: "password", Static: &static})
	assert.Equal(t, hotspotID, s["connection"]["id"])
	assert.Equal(t, "wlan0", s["connection"]["interface-name"])
	assert.Equal(t, "ap", s["802-11-wireless"]["mode"])
	assert.Equal(t, []byte("setup"), s["802-11-wireless"]["ssid"])
	assert.Equal(t, "wpa-psk", s["802-11-wireless-security"]["key-mgmt"])
	assert.Equal(t, "shared", s["ipv4"]["method"])
	assert.Equal(t, []map[string]dbus.Variant{{
		"address": dbus.MakeVariant("10.0.1.1"),
		"prefix":  dbus.MakeVariant(uint32(24)),
	}}, s["ipv4"]["address-data"])

	open := hotspotSettings("", wifi.AccessPointConfig{SSID: "setup"})
	assert.NotContains(t, open, "802-11-wireless-security")
	assert.NotContains(t, open["connection"], "interface-name")
	assert.NotContains(t, open["ipv4"], "address-data")
}

func TestStationSettings(t *testing.T) {
	creds := wifi.Credentials{SSID: "HomeNet", Passphrase: "password"}

	s := stationSettings("wlan0", creds, nil)
	assert.Equal(t, stationID, s["connection"]["id"])
	assert.Equal(t, "infrastructure", s["802-11-wireless"]["mode"])
	assert.Equal(t, "password", s["802-11-wireless-security"]["psk"])
	assert.Equal(t, "auto", s["ipv4"]["method"])

	static := wifi.StaticIPConfig{
		Address: netip.MustParseAddr("192.168.1.50"),
		Netmask: netip.MustParseAddr("255.255.0.0"),
		Gateway: netip.MustParseAddr("192.168.1.1"),
	}
	s = stationSettings("wlan0", creds, &static)
	assert.Equal(t, "manual", s["ipv4"]["method"])
	assert.Equal(t, "192.168.1.1", s["ipv4"]["gateway"])
	assert.Equal(t, []map[string]dbus.Variant{{
		"address": dbus.MakeVariant("192.168.1.50"),
		"prefix":  dbus.MakeVariant(uint32(16)),
	}}, s["ipv4"]["address-data"])
}
