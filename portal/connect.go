package portal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shazow/wifiportal/internal/clock"
	"github.com/shazow/wifiportal/wifi"
)

// Store persists credentials and static addressing between boots.
type Store interface {
	Load() (wifi.Credentials, bool)
	Save(creds wifi.Credentials) error
	LoadIPConfig() (wifi.StaticIPConfig, bool)
	SaveIPConfig(cfg *wifi.StaticIPConfig) error
	Clear() error
}

// Controller runs bounded connection attempts on the radio.
type Controller struct {
	radio  wifi.Radio
	store  Store
	clock  clock.Clock
	logger *slog.Logger

	// Timeout bounds each wait for an association. Zero waits until the
	// radio settles.
	Timeout      time.Duration
	PollInterval time.Duration
	TryWPS       bool
	// KeepAccessPoint attempts in dual mode so the provisioning network
	// stays reachable, and drops back to access-point mode on failure.
	KeepAccessPoint bool

	LastOutcome Outcome
	LastError   error
}

// NewController returns a Controller with the default timeout and poll interval.
func NewController(radio wifi.Radio, store Store, clk clock.Clock, logger *slog.Logger) *Controller {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		radio:        radio,
		store:        store,
		clock:        clk,
		logger:       logger.With("component", "connect"),
		Timeout:      DefaultConnectTimeout,
		PollInterval: DefaultConnectPollInterval,
	}
}

// Connect associates the station with ssid. An empty ssid reconnects with the
// radio's last known station configuration and never touches the store.
// Newly working credentials are saved.
func (c *Controller) Connect(ctx context.Context, ssid, passphrase string) Outcome {
	outcome, err := c.connect(ctx, ssid, passphrase, c.TryWPS)
	return c.finish(ssid, outcome, err)
}

// Reconnect brings the station back up with the radio's last known
// configuration. It never falls back to WPS.
func (c *Controller) Reconnect(ctx context.Context) Outcome {
	outcome, err := c.connect(ctx, "", "", false)
	return c.finish("", outcome, err)
}

func (c *Controller) finish(ssid string, outcome Outcome, err error) Outcome {
	c.LastOutcome, c.LastError = outcome, err

	logger := c.logger.With("ssid", ssid, "outcome", outcome)
	if err != nil {
		logger = logger.With("error", err)
	}
	if outcome == OutcomeConnected {
		logger.Info("station associated")
		return outcome
	}
	logger.Warn("connection attempt failed")

	if c.KeepAccessPoint {
		if err := c.radio.SetMode(wifi.ModeAccessPoint); err != nil {
			c.logger.Error("failed to fall back to access-point mode", "error", err)
		}
	}
	return outcome
}

func (c *Controller) connect(ctx context.Context, ssid, passphrase string, tryWPS bool) (Outcome, error) {
	if ssid != "" {
		if err := (wifi.Credentials{SSID: ssid, Passphrase: passphrase}).Validate(); err != nil {
			return OutcomeFailed, err
		}
		// Switching networks while a stale association is held can wedge
		// some drivers.
		if err := c.radio.Disconnect(true); err != nil {
			c.logger.Warn("failed to drop previous association", "error", err)
		}
	}

	mode := wifi.ModeStation
	if c.KeepAccessPoint {
		mode = wifi.ModeDual
	}
	if err := c.radio.SetMode(mode); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to switch to %s mode: %w", mode, err)
	}

	if cfg, ok := c.store.LoadIPConfig(); ok {
		if err := c.radio.ConfigureStatic(cfg); err != nil {
			c.logger.Warn("failed to apply static ip, continuing", "error", err)
		}
	} else if err := c.radio.ConfigureDHCP(); err != nil {
		c.logger.Warn("failed to request dhcp, continuing", "error", err)
	}

	c.logger.Info("connecting", "ssid", ssid, "mode", mode)
	if err := c.radio.Begin(ssid, passphrase); err != nil {
		return OutcomeFailed, fmt.Errorf("failed to begin association: %w", err)
	}
	outcome, err := c.wait(ctx)
	if outcome == OutcomeConnected {
		c.remember(ssid, passphrase)
		return outcome, nil
	}

	if tryWPS && passphrase == "" {
		c.logger.Info("trying wps push-button pairing")
		if err := c.radio.StartWPS(); err != nil {
			return OutcomeFailed, fmt.Errorf("failed to start wps: %w", err)
		}
		return c.wait(ctx)
	}
	return outcome, err
}

// wait polls the radio until the attempt settles or the timeout passes.
func (c *Controller) wait(ctx context.Context) (Outcome, error) {
	start := c.clock.Now()
	for {
		status, err := c.radio.Status()
		if err != nil {
			return OutcomeFailed, fmt.Errorf("failed to read radio status: %w", err)
		}
		switch status {
		case wifi.StatusConnected:
			return OutcomeConnected, nil
		case wifi.StatusConnectFailed:
			return OutcomeFailed, fmt.Errorf("association rejected: %w", wifi.ErrOperationFailed)
		case wifi.StatusNoNetwork:
			// With a timeout the network gets until then to appear.
			if c.Timeout == 0 {
				return OutcomeFailed, fmt.Errorf("network not in range: %w", wifi.ErrNotFound)
			}
		}

		if c.Timeout > 0 && c.clock.Now().Sub(start) >= c.Timeout {
			return OutcomeTimedOut, fmt.Errorf("no association after %s, last status %s", c.Timeout, status)
		}
		if err := ctx.Err(); err != nil {
			return OutcomeFailed, err
		}
		c.clock.Sleep(c.PollInterval)
	}
}

// remember saves credentials that differ from the stored ones.
func (c *Controller) remember(ssid, passphrase string) {
	if ssid == "" {
		return
	}
	creds := wifi.Credentials{SSID: ssid, Passphrase: passphrase}
	if stored, ok := c.store.Load(); ok && stored == creds {
		return
	}
	if err := c.store.Save(creds); err != nil {
		c.logger.Warn("connected but failed to save credentials", "error", err)
	}
}
