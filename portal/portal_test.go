package portal

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shazow/wifiportal/internal/clock"
	"github.com/shazow/wifiportal/wifi"
	"github.com/shazow/wifiportal/wifi/mock"
)

type recordingNotifier struct {
	entered int
	saved   int
	portal  *Portal
}

func (n *recordingNotifier) OnEnterProvisioning(p *Portal) {
	n.entered++
	n.portal = p
}

func (n *recordingNotifier) OnCredentialsSaved() { n.saved++ }

type harness struct {
	portal   *Portal
	radio    *mock.MockRadio
	store    *countingStore
	clock    *clock.FakeClock
	notifier *recordingNotifier
}

func newHarness(t *testing.T, cfg Config, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		radio:    newTestRadio(t),
		store:    newTestStore(t),
		clock:    clock.Fake(epoch),
		notifier: &recordingNotifier{},
	}
	cfg.DNSAddr = ""
	opts = append([]Option{
		WithConfig(cfg),
		WithClock(h.clock),
		WithLogger(quietLogger()),
		WithNotifier(h.notifier),
	}, opts...)
	h.portal = New(h.radio, h.store, opts...)
	return h
}

func (h *harness) start(t *testing.T, timeout time.Duration) {
	t.Helper()
	require.NoError(t, h.portal.Start(context.Background(), "setup", "", timeout))
}

func TestStartTimesOutWithoutCredentials(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start(t, 5000*time.Millisecond)
	assert.Equal(t, Provisioning, h.portal.Session().Mode)
	assert.Equal(t, 1, h.notifier.entered)

	connected, err := h.portal.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, connected)

	s := h.portal.Session()
	assert.Equal(t, Closed, s.Mode)
	assert.Equal(t, CloseTimedOut, s.CloseReason)
	assert.GreaterOrEqual(t, h.clock.Now().Sub(s.Started), 5*time.Second)
	assert.Nil(t, h.radio.AccessPoint, "access point should be torn down")
	assert.Equal(t, 1, h.radio.Called("Begin"), "timeout makes one last reconnect")
	assert.Zero(t, h.notifier.saved)
	assertStoreEmpty(t, h.store)

	select {
	case <-h.portal.Done():
	default:
		t.Error("Done() not closed")
	}
}

func TestTimeoutReconnectSkipsWPS(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TryWPS = true
	h := newHarness(t, cfg)
	h.start(t, 5*time.Second)

	connected, err := h.portal.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, connected)
	assert.Equal(t, CloseTimedOut, h.portal.Session().CloseReason)
	assert.Equal(t, 1, h.radio.Called("Begin"))
	assert.Zero(t, h.radio.Called("StartWPS"), "no push-button pairing on the way out")
}

func TestCloseWinsOverPendingSubmission(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start(t, 0)

	h.portal.SubmitCredentials("home", "12345678")
	h.portal.RequestClose()
	h.portal.Tick(context.Background())

	s := h.portal.Session()
	assert.Equal(t, Closed, s.Mode)
	assert.Equal(t, CloseRequested, s.CloseReason)
	assert.False(t, s.ConnectRequested)
	assert.Zero(t, h.radio.Called("Begin"), "connect must not run")
	assertStoreEmpty(t, h.store)
}

func TestSubmissionProcessedBeforeClose(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start(t, 0)

	h.portal.SubmitCredentials("Password is password", "password")
	h.portal.Tick(context.Background())
	assert.Equal(t, Connected, h.portal.Session().Mode)
	assert.Equal(t, OutcomeConnected, h.portal.Session().LastOutcome)
	assert.Equal(t, 1, h.notifier.saved)

	h.portal.RequestClose()
	h.portal.Tick(context.Background())
	s := h.portal.Session()
	assert.Equal(t, Closed, s.Mode)
	assert.Equal(t, CloseRequested, s.CloseReason)
	assert.Equal(t, 1, h.radio.Called("Begin"))
	assert.True(t, h.portal.Connected())

	got, ok := h.store.Load()
	require.True(t, ok)
	assert.Equal(t, wifi.Credentials{SSID: "Password is password", Passphrase: "password"}, got)
}

func TestSubmitDelayRunsBeforeConnect(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start(t, 0)
	before := h.clock.Slept()

	h.portal.SubmitCredentials("Unencrypted_Honeypot", "")
	h.portal.Tick(context.Background())
	assert.GreaterOrEqual(t, h.clock.Slept()-before, DefaultSubmitDelay)
}

func TestFailedSubmissionReturnsToProvisioning(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start(t, 0)

	h.portal.SubmitCredentials("Password is password", "hunter22")
	h.portal.Tick(context.Background())

	s := h.portal.Session()
	assert.Equal(t, Provisioning, s.Mode)
	assert.Equal(t, OutcomeFailed, s.LastOutcome)
	assert.Error(t, s.LastError)
	assert.Equal(t, wifi.ModeAccessPoint, h.radio.CurrentMode)
	assert.NotNil(t, h.radio.AccessPoint, "access point stays up for a retry")
	assert.Zero(t, h.notifier.saved)

	// A retry with the right passphrase goes through.
	h.portal.SubmitCredentials("Password is password", "password")
	h.portal.Tick(context.Background())
	assert.Equal(t, Connected, h.portal.Session().Mode)
}

func TestBreakAfterConfig(t *testing.T) {
	tests := []struct {
		name string
		pass string
		want Outcome
	}{
		{"connected", "password", OutcomeConnected},
		{"failed", "hunter22", OutcomeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.BreakAfterConfig = true
			h := newHarness(t, cfg)
			h.start(t, 0)

			h.portal.SubmitCredentials("Password is password", tt.pass)
			h.portal.Tick(context.Background())

			s := h.portal.Session()
			assert.Equal(t, Closed, s.Mode)
			assert.Equal(t, CloseConfigured, s.CloseReason)
			assert.Equal(t, tt.want, s.LastOutcome)
			assert.Equal(t, 1, h.notifier.saved)
		})
	}
}

func TestStartAccessPointPassphrase(t *testing.T) {
	tests := []struct {
		name string
		pass string
		want string
	}{
		{"open", "", ""},
		{"too short", "1234567", ""},
		{"valid", "12345678", "12345678"},
		{"too long", strings.Repeat("x", 64), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, DefaultConfig())
			require.NoError(t, h.portal.Start(context.Background(), "setup", tt.pass, 0))
			require.NotNil(t, h.radio.AccessPoint)
			assert.Equal(t, "setup", h.radio.AccessPoint.SSID)
			assert.Equal(t, tt.want, h.radio.AccessPoint.Passphrase)
		})
	}
}

func TestStartWithStaticAccessPoint(t *testing.T) {
	cfg := DefaultConfig()
	apIP, err := wifi.ParseStaticIPConfig("10.0.0.1", "255.255.255.0", "10.0.0.1")
	require.NoError(t, err)
	cfg.APStaticIP = &apIP
	h := newHarness(t, cfg)
	h.start(t, 0)

	assert.Equal(t, apIP.Address, h.portal.Status().AccessPointAddr)
}

func TestStartReconnectsSavedCredentials(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.store.Store.Save(wifi.Credentials{SSID: "Password is password", Passphrase: "password"}))
	h.start(t, 0)

	s := h.portal.Session()
	assert.Equal(t, Connected, s.Mode)
	assert.Equal(t, OutcomeConnected, s.LastOutcome)
	assert.Equal(t, wifi.ModeDual, h.radio.CurrentMode)
	assert.Zero(t, h.store.saves, "known credentials are not rewritten")
	assert.Zero(t, h.notifier.saved)
}

func TestStartWhileAssociated(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	creds := wifi.Credentials{SSID: "Password is password", Passphrase: "password"}
	require.NoError(t, h.store.Store.Save(creds))
	h.radio.CurrentMode = wifi.ModeStation
	h.radio.CurrentStatus = wifi.StatusConnected
	h.radio.StationConfig = creds

	h.start(t, 0)
	assert.Equal(t, wifi.ModeDual, h.radio.CurrentMode)
	assert.Equal(t, Connected, h.portal.Session().Mode)
	assert.Zero(t, h.radio.Called("Begin"), "already on the saved network")
}

func TestStartErrors(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.radio.StartAPError = wifi.ErrNotSupported
	err := h.portal.Start(context.Background(), "setup", "", 0)
	assert.ErrorIs(t, err, wifi.ErrNotSupported)
	assert.Equal(t, Idle, h.portal.Session().Mode)

	h.radio.StartAPError = nil
	require.NoError(t, h.portal.Start(context.Background(), "setup", "", 0))
	assert.ErrorIs(t, h.portal.Start(context.Background(), "setup", "", 0), ErrAlreadyStarted)
}

func TestStartFailsWhenDNSCannotBind(t *testing.T) {
	h := newHarness(t, DefaultConfig(), WithDNS("127.0.0.1:99999"))
	err := h.portal.Start(context.Background(), "setup", "", 0)
	require.Error(t, err)
	assert.Nil(t, h.radio.AccessPoint, "access point is taken down again")
}

func TestStartWithDNS(t *testing.T) {
	h := newHarness(t, DefaultConfig(), WithDNS("127.0.0.1:0"))
	h.start(t, 0)
	require.NotNil(t, h.portal.dns)

	h.portal.RequestClose()
	h.portal.Tick(context.Background())
	assert.Equal(t, Closed, h.portal.Session().Mode)
	assert.Nil(t, h.portal.dns)
}

func TestRunErrors(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	_, err := h.portal.Run(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)

	h.start(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	connected, err := h.portal.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, connected)
	assert.Equal(t, Closed, h.portal.Session().Mode)
	assert.Equal(t, CloseRequested, h.portal.Session().CloseReason)
}

func TestNotifierReceivesPortal(t *testing.T) {
	var got *Portal
	h := newHarness(t, DefaultConfig())
	h.portal.notifier = NotifierFuncs{EnterProvisioning: func(p *Portal) { got = p }}
	h.start(t, 0)
	assert.Same(t, h.portal, got)

	// Missing funcs are skipped.
	NotifierFuncs{}.OnCredentialsSaved()
}

func TestIndicatorBlinks(t *testing.T) {
	var lights []bool
	h := newHarness(t, DefaultConfig(), WithIndicator(IndicatorFunc(func(on bool) {
		lights = append(lights, on)
	})))
	h.start(t, 0)

	ctx := context.Background()
	h.portal.Tick(ctx)
	h.clock.Advance(250 * time.Millisecond)
	h.portal.Tick(ctx)
	h.clock.Advance(250 * time.Millisecond)
	h.portal.Tick(ctx)
	assert.Equal(t, []bool{true, false}, lights)

	h.portal.RequestClose()
	h.portal.Tick(ctx)
	assert.Equal(t, []bool{true, false, false}, lights, "indicator is off once closed")
}

func TestDoRunsOnLoop(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	h.start(t, 0)

	result := make(chan error, 1)
	var mode Mode
	go func() {
		result <- h.portal.Do(context.Background(), func(p *Portal) {
			mode = p.Session().Mode
			p.SubmitCredentials("Password is password", "password")
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	var err error
wait:
	for {
		h.portal.Tick(context.Background())
		select {
		case err = <-result:
			break wait
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("queued work never ran")
		}
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, err)
	assert.Equal(t, Provisioning, mode)

	// The submission made inside Do is processed by the same or the next tick.
	h.portal.Tick(context.Background())
	assert.Equal(t, Connected, h.portal.Session().Mode)

	h.portal.RequestClose()
	h.portal.Tick(context.Background())
	assert.ErrorIs(t, h.portal.Do(context.Background(), func(*Portal) {}), ErrClosed)
}

func TestScanAndStatus(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinimumQuality = 10
	h := newHarness(t, cfg)
	h.start(t, time.Minute)

	result, err := h.portal.Scan()
	require.NoError(t, err)
	assert.NotZero(t, result.Len())
	for _, n := range result.Selectable() {
		assert.GreaterOrEqual(t, n.Quality, 10)
	}

	h.portal.SubmitCredentials("Password is password", "password")
	h.portal.Tick(context.Background())

	s := h.portal.Status()
	assert.Equal(t, Connected, s.Mode)
	assert.Equal(t, "setup", s.AccessPointSSID)
	assert.Equal(t, mock.DefaultAccessPointAddress, s.AccessPointAddr)
	assert.Equal(t, "Password is password", s.StoredSSID)
	assert.True(t, s.HasPassphrase)
	assert.Equal(t, mock.DefaultStationAddress, s.StationAddr)
	assert.Nil(t, s.IPConfig)
	assert.Equal(t, result.Len(), s.Networks.Len())
	assert.Positive(t, s.Remaining)
	assert.LessOrEqual(t, s.Remaining, time.Minute)
}

func TestChangeIPConfig(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	assert.ErrorIs(t, h.portal.ChangeIPConfig(&wifi.StaticIPConfig{}), wifi.ErrInvalidAddress)

	cfg, err := wifi.ParseStaticIPConfig("192.168.1.50", "255.255.255.0", "192.168.1.1")
	require.NoError(t, err)
	require.NoError(t, h.portal.ChangeIPConfig(&cfg))
	got, ok := h.store.LoadIPConfig()
	require.True(t, ok)
	assert.Equal(t, cfg, got)

	require.NoError(t, h.portal.ChangeIPConfig(nil))
	_, ok = h.store.LoadIPConfig()
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	h := newHarness(t, DefaultConfig())
	require.NoError(t, h.store.Store.Save(wifi.Credentials{SSID: "Password is password", Passphrase: "password"}))
	h.start(t, 0)
	require.Equal(t, Connected, h.portal.Session().Mode)

	require.NoError(t, h.portal.Reset())
	_, ok := h.store.Load()
	assert.False(t, ok)
	assert.Empty(t, h.radio.StationConfig.SSID)
}

func TestParameters(t *testing.T) {
	h := newHarness(t, DefaultConfig())

	require.NoError(t, h.portal.AddParameter(Parameter{ID: "mqtt", Label: "MQTT host", MaxLength: 8}))
	require.NoError(t, h.portal.AddParameter(Parameter{ID: "name", Value: "dévice-one", MaxLength: 2}))
	assert.Error(t, h.portal.AddParameter(Parameter{ID: "mqtt"}), "duplicate id")
	assert.Error(t, h.portal.AddParameter(Parameter{ID: "s"}), "reserved id")
	assert.Error(t, h.portal.AddParameter(Parameter{}), "missing id")

	params := h.portal.Parameters()
	require.Len(t, params, 2)
	assert.Equal(t, "d", params[1].Value, "truncation keeps whole runes")

	h.portal.SubmitParameters(map[string]string{"mqtt": "broker.example.com", "unknown": "x"})
	params = h.portal.Parameters()
	assert.Equal(t, "broker.e", params[0].Value)

	// Parameters returns a copy.
	params[0].Value = "changed"
	assert.Equal(t, "broker.e", h.portal.Parameters()[0].Value)
}
