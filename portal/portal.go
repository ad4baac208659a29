// Package portal runs a Wi-Fi provisioning session: it hosts a temporary
// access point, redirects DNS so clients land on the setup page, and drives
// connection attempts with the credentials they submit.
//
// A Portal is driven by a single loop goroutine (Run, or repeated calls to
// Tick). Other goroutines interact with it only through SubmitCredentials,
// RequestClose and Do.
package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/shazow/wifiportal/internal/clock"
	"github.com/shazow/wifiportal/internal/dnsredirect"
	"github.com/shazow/wifiportal/wifi"
)

var (
	ErrAlreadyStarted = errors.New("portal already started")
	ErrNotStarted     = errors.New("portal not started")
	ErrClosed         = errors.New("portal closed")
)

// workQueueSize bounds the requests waiting for the loop.
const workQueueSize = 8

// Option configures a Portal.
type Option func(*Portal)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(p *Portal) { p.cfg = cfg }
}

// WithNotifier sets the receiver of lifecycle events.
func WithNotifier(n Notifier) Option {
	return func(p *Portal) { p.notifier = n }
}

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(p *Portal) { p.clock = c }
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Portal) { p.logger = logger }
}

// WithIndicator sets the status light blinked while the access point is up.
func WithIndicator(i Indicator) Option {
	return func(p *Portal) { p.indicator = i }
}

// WithDNS overrides Config.DNSAddr. An empty addr disables the redirect.
func WithDNS(addr string) Option {
	return func(p *Portal) {
		p.dnsAddr = addr
		p.dnsSet = true
	}
}

// Portal is a single-use provisioning session.
type Portal struct {
	cfg       Config
	radio     wifi.Radio
	store     Store
	ctrl      *Controller
	notifier  Notifier
	indicator Indicator
	clock     clock.Clock
	logger    *slog.Logger

	dnsAddr string
	dnsSet  bool
	dns     *dnsredirect.Redirector

	session  Session
	apSSID   string
	apAddr   netip.Addr
	params   []Parameter
	lastScan wifi.ScanResult

	blinkAt time.Time
	lightOn bool

	// mu guards the two flags that callers outside the loop may set.
	mu      sync.Mutex
	submit  *wifi.Credentials
	closeRq bool

	work      chan func(*Portal)
	closed    chan struct{}
	closeOnce sync.Once
}

// New returns an idle Portal driving radio and persisting to store.
func New(radio wifi.Radio, store Store, opts ...Option) *Portal {
	p := &Portal{
		cfg:       DefaultConfig(),
		radio:     radio,
		store:     store,
		notifier:  NopNotifier{},
		indicator: nopIndicator{},
		clock:     clock.Real(),
		logger:    slog.Default(),
		work:      make(chan func(*Portal), workQueueSize),
		closed:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if !p.dnsSet {
		p.dnsAddr = p.cfg.DNSAddr
	}
	p.logger = p.logger.With("component", "portal")

	p.ctrl = NewController(radio, store, p.clock, p.logger)
	p.ctrl.Timeout = p.cfg.ConnectTimeout
	p.ctrl.PollInterval = p.cfg.ConnectPollInterval
	p.ctrl.TryWPS = p.cfg.TryWPS
	return p
}

// Config returns the active configuration.
func (p *Portal) Config() Config {
	return p.cfg
}

// Session returns a copy of the session state.
func (p *Portal) Session() Session {
	return p.session
}

// Start brings up the access point named apName and the DNS redirect, then
// tries the stored credentials. An apPassword the radio cannot accept opens
// the network instead. A timeout of zero keeps the portal open until closed.
//
// Start fails only when the access point or the DNS socket cannot be set up.
func (p *Portal) Start(ctx context.Context, apName, apPassword string, timeout time.Duration) error {
	if p.session.Mode != Idle {
		return ErrAlreadyStarted
	}
	if !wifi.ValidPassphrase(apPassword) {
		p.logger.Warn("access point passphrase must be 8-63 bytes, starting an open network", "length", len(apPassword))
		apPassword = ""
	}

	// Dual mode is unreliable while the station is still scanning for a
	// network, so only use it when already associated.
	mode := wifi.ModeAccessPoint
	if p.associated() {
		mode = wifi.ModeDual
	}
	if err := p.radio.SetMode(mode); err != nil {
		return fmt.Errorf("failed to switch to %s mode: %w", mode, err)
	}
	apCfg := wifi.AccessPointConfig{SSID: apName, Passphrase: apPassword, Static: p.cfg.APStaticIP}
	if err := p.radio.StartAccessPoint(apCfg); err != nil {
		return fmt.Errorf("failed to start access point %q: %w", apName, err)
	}
	p.clock.Sleep(p.cfg.SettleDelay)

	addr, err := p.radio.AccessPointAddress()
	if err != nil {
		p.stopAccessPoint()
		return fmt.Errorf("failed to read access point address: %w", err)
	}
	if p.dnsAddr != "" {
		dns, err := dnsredirect.Listen(p.dnsAddr, addr, p.logger)
		if err != nil {
			p.stopAccessPoint()
			return err
		}
		p.dns = dns
	}

	p.apSSID, p.apAddr = apName, addr
	p.session = Session{
		Started: p.clock.Now(),
		Timeout: timeout,
		Mode:    Provisioning,
	}
	p.ctrl.KeepAccessPoint = true
	p.logger.Info("portal started", "ssid", apName, "open", apPassword == "", "address", addr, "timeout", timeout)
	p.notifier.OnEnterProvisioning(p)

	p.reconnectSaved(ctx)
	return nil
}

// reconnectSaved tries the stored credentials without waiting for a submission.
func (p *Portal) reconnectSaved(ctx context.Context) {
	creds, ok := p.store.Load()
	if !ok {
		return
	}
	if p.associated() {
		if ssid, err := p.radio.StationSSID(); err == nil && ssid == creds.SSID {
			p.session.Mode = Connected
			return
		}
	}
	p.logger.Info("trying saved credentials", "ssid", creds.SSID)
	p.attempt(ctx, creds.SSID, creds.Passphrase)
}

// attempt runs one connection attempt and records its outcome.
func (p *Portal) attempt(ctx context.Context, ssid, passphrase string) Outcome {
	p.session.Mode = Connecting
	outcome := p.ctrl.Connect(ctx, ssid, passphrase)
	p.session.LastOutcome = outcome
	p.session.LastError = p.ctrl.LastError
	if outcome == OutcomeConnected {
		p.session.Mode = Connected
	} else {
		p.session.Mode = Provisioning
	}
	return outcome
}

// SubmitCredentials queues a connection attempt for the next tick. A later
// submission before that tick replaces an earlier one. Safe to call from any
// goroutine.
func (p *Portal) SubmitCredentials(ssid, passphrase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submit = &wifi.Credentials{SSID: ssid, Passphrase: passphrase}
}

// RequestClose asks the portal to close on the next tick. Safe to call from
// any goroutine.
func (p *Portal) RequestClose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeRq = true
}

// collectRequests moves externally set flags into the session.
func (p *Portal) collectRequests() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.submit != nil {
		p.session.Pending = *p.submit
		p.session.ConnectRequested = true
		p.submit = nil
	}
	if p.closeRq {
		p.session.CloseRequested = true
		p.closeRq = false
	}
}

// Do runs f on the loop goroutine and waits for it to finish. It fails once
// the portal has closed or ctx is done.
func (p *Portal) Do(ctx context.Context, f func(*Portal)) error {
	done := make(chan struct{})
	job := func(p *Portal) {
		defer close(done)
		f(p)
	}
	select {
	case p.work <- job:
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-p.closed:
		// The job may have run in the tick that closed the portal.
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick runs one loop iteration: answer one DNS query, run one queued request,
// update the indicator, then act on a close request, a submission and the
// timeout, in that order. A close request seen in the same tick as a
// submission wins and the submission is dropped.
func (p *Portal) Tick(ctx context.Context) {
	switch p.session.Mode {
	case Idle, Closed:
		return
	}

	if p.dns != nil {
		if _, err := p.dns.ProcessNext(); err != nil {
			p.logger.Debug("dns reply failed", "error", err)
		}
	}
	select {
	case job := <-p.work:
		job(p)
	default:
	}
	p.blink()

	p.collectRequests()
	if p.session.CloseRequested {
		if p.session.ConnectRequested {
			p.logger.Info("close requested, dropping pending submission", "ssid", p.session.Pending.SSID)
			p.session.ConnectRequested = false
			p.session.Pending = wifi.Credentials{}
		}
		p.close(ctx, CloseRequested)
		return
	}
	if p.session.ConnectRequested {
		p.handleSubmission(ctx)
		if p.session.Mode == Closed {
			return
		}
	}
	if p.session.Expired(p.clock.Now()) {
		p.close(ctx, CloseTimedOut)
	}
}

func (p *Portal) handleSubmission(ctx context.Context) {
	creds := p.session.Pending
	p.session.Pending = wifi.Credentials{}
	p.session.ConnectRequested = false

	p.clock.Sleep(p.cfg.SubmitDelay)
	p.logger.Info("connecting with submitted credentials", "ssid", creds.SSID)
	saved := false
	if p.attempt(ctx, creds.SSID, creds.Passphrase) == OutcomeConnected {
		p.notifier.OnCredentialsSaved()
		saved = true
	}

	if p.cfg.BreakAfterConfig {
		// Applications may store custom parameters from this hook, so it fires
		// even when the attempt failed.
		if !saved {
			p.notifier.OnCredentialsSaved()
		}
		p.close(ctx, CloseConfigured)
	}
}

func (p *Portal) blink() {
	if p.cfg.BlinkInterval <= 0 {
		return
	}
	now := p.clock.Now()
	if now.Sub(p.blinkAt) < p.cfg.BlinkInterval {
		return
	}
	p.blinkAt = now
	p.lightOn = !p.lightOn
	p.indicator.Set(p.lightOn)
}

// close tears the session down. A timed out session without an association
// gets one last reconnect with the radio's stored station configuration.
func (p *Portal) close(ctx context.Context, reason CloseReason) {
	p.session.CloseReason = reason
	p.session.CloseRequested = false
	p.ctrl.KeepAccessPoint = false

	if p.dns != nil {
		if err := p.dns.Close(); err != nil {
			p.logger.Warn("failed to stop dns redirect", "error", err)
		}
		p.dns = nil
	}
	p.stopAccessPoint()
	if err := p.radio.SetMode(wifi.ModeStation); err != nil {
		p.logger.Warn("failed to switch to station mode", "error", err)
	}

	if reason == CloseTimedOut && !p.associated() {
		p.logger.Info("portal timed out, reconnecting to last known network")
		outcome := p.ctrl.Reconnect(ctx)
		p.session.LastOutcome = outcome
		p.session.LastError = p.ctrl.LastError
	}

	p.indicator.Set(false)
	p.lightOn = false
	p.session.Mode = Closed
	p.closeOnce.Do(func() { close(p.closed) })
	p.logger.Info("portal closed", "reason", reason, "associated", p.associated())
}

func (p *Portal) stopAccessPoint() {
	if err := p.radio.StopAccessPoint(); err != nil {
		p.logger.Warn("failed to stop access point", "error", err)
	}
}

// Run loops until the session closes or ctx is done, and reports whether the
// station ends up associated. A cancelled ctx closes the session and is
// returned as the error.
func (p *Portal) Run(ctx context.Context) (bool, error) {
	if p.session.Mode == Idle {
		return false, ErrNotStarted
	}
	for p.session.Mode != Closed {
		if err := ctx.Err(); err != nil {
			p.close(context.WithoutCancel(ctx), CloseRequested)
			return p.Connected(), err
		}
		p.Tick(ctx)
		if p.session.Mode != Closed {
			p.clock.Sleep(p.cfg.PollInterval)
		}
	}
	return p.Connected(), nil
}

// Done is closed once the session has closed.
func (p *Portal) Done() <-chan struct{} {
	return p.closed
}

// Connected reports whether the radio is currently associated.
func (p *Portal) Connected() bool {
	return p.associated()
}

func (p *Portal) associated() bool {
	status, err := p.radio.Status()
	return err == nil && status == wifi.StatusConnected
}

// Scan ranks the visible networks using the configured filters and keeps the
// result for Status.
func (p *Portal) Scan() (wifi.ScanResult, error) {
	result, err := wifi.Scan(p.radio, p.cfg.MinimumQuality, p.cfg.RemoveDuplicates)
	if err != nil {
		return wifi.ScanResult{}, err
	}
	p.lastScan = result
	return result, nil
}

// ChangeIPConfig stores static addressing for the station, or DHCP when cfg
// is nil. It takes effect on the next association.
func (p *Portal) ChangeIPConfig(cfg *wifi.StaticIPConfig) error {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	return p.store.SaveIPConfig(cfg)
}

// Reset forgets the stored records and the radio's station configuration.
// The portal stays open.
func (p *Portal) Reset() error {
	p.logger.Warn("factory reset")
	err := p.store.Clear()
	if derr := p.radio.Disconnect(true); derr != nil {
		err = errors.Join(err, fmt.Errorf("failed to forget station configuration: %w", derr))
	}
	p.lastScan = wifi.ScanResult{}
	return err
}

// AddParameter registers a custom form field. IDs must be unique.
func (p *Portal) AddParameter(param Parameter) error {
	if err := validateParameter(param); err != nil {
		return err
	}
	for _, existing := range p.params {
		if existing.ID == param.ID {
			return fmt.Errorf("parameter %q already added", param.ID)
		}
	}
	param.set(param.Value)
	p.params = append(p.params, param)
	return nil
}

// Parameters returns a copy of the custom form fields with their current values.
func (p *Portal) Parameters() []Parameter {
	return append([]Parameter(nil), p.params...)
}

// SubmitParameters updates custom fields from submitted form values. Unknown
// keys are ignored and values are truncated to each field's MaxLength.
func (p *Portal) SubmitParameters(values map[string]string) {
	for i := range p.params {
		if v, ok := values[p.params[i].ID]; ok {
			p.params[i].set(v)
		}
	}
}
