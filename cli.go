package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/shazow/wifiportal/internal/clock"
	"github.com/shazow/wifiportal/internal/httpapi"
	"github.com/shazow/wifiportal/internal/log"
	"github.com/shazow/wifiportal/internal/store"
	"github.com/shazow/wifiportal/portal"
	"github.com/shazow/wifiportal/wifi"
)

type scanOptions struct {
	JSON       bool
	MinQuality int
	// All includes duplicate and low quality entries.
	All bool
}

type scanEntry struct {
	SSID      string `json:"ssid"`
	RSSI      int    `json:"rssi"`
	Quality   int    `json:"quality"`
	Encrypted bool   `json:"encrypted"`
	Excluded  string `json:"excluded,omitempty"`
}

func ensureStation(radio wifi.Radio) error {
	mode, err := radio.Mode()
	if err != nil {
		return err
	}
	if mode == wifi.ModeOff || mode == wifi.ModeAccessPoint {
		return radio.SetMode(wifi.ModeStation)
	}
	return nil
}

func runScan(w io.Writer, radio wifi.Radio, opts scanOptions) error {
	if err := ensureStation(radio); err != nil {
		return fmt.Errorf("failed to enable station: %w", err)
	}
	result, err := wifi.Scan(radio, opts.MinQuality, true)
	if err != nil {
		return fmt.Errorf("failed to scan: %w", err)
	}
	records := result.Selectable()
	if opts.All {
		records = result.Networks
	}

	if opts.JSON {
		entries := make([]scanEntry, 0, len(records))
		for _, n := range records {
			e := scanEntry{SSID: n.SSID, RSSI: n.RSSI, Quality: n.Quality, Encrypted: n.Encrypted}
			if !n.Selectable() {
				e.Excluded = n.Exclusion.String()
			}
			entries = append(entries, e)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	for _, n := range records {
		parts := []string{signalStyle(n.Quality).Render(fmt.Sprintf("%d%%", n.Quality))}
		if n.Encrypted {
			parts = append(parts, "secure")
		}
		line := fmt.Sprintf("%s\t%s", n.SSID, strings.Join(parts, ", "))
		if !n.Selectable() {
			line += subtleStyle.Render(fmt.Sprintf(" (%s)", n.Exclusion))
		}
		fmt.Fprintln(w, line)
	}
	return nil
}

type statusReport struct {
	SSID          string `json:"ssid,omitempty"`
	HasPassphrase bool   `json:"has_passphrase"`
	IPType        string `json:"ip_type"`
	Address       string `json:"address,omitempty"`
	Netmask       string `json:"netmask,omitempty"`
	Gateway       string `json:"gateway,omitempty"`
}

// runStatus prints the stored records. The passphrase itself is never shown.
func runStatus(w io.Writer, st *store.Store, asJSON bool) error {
	var r statusReport
	if creds, ok := st.Load(); ok {
		r.SSID = creds.SSID
		r.HasPassphrase = creds.Passphrase != ""
	}
	r.IPType = "dhcp"
	if cfg, ok := st.LoadIPConfig(); ok {
		r.IPType = "static"
		r.Address, r.Netmask, r.Gateway = cfg.Address.String(), cfg.Netmask.String(), cfg.Gateway.String()
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	fmt.Fprintln(w, headerStyle.Render("Stored network"))
	if r.SSID == "" {
		fmt.Fprintln(w, subtleStyle.Render("  none"))
	} else {
		fmt.Fprintf(w, "  SSID: %s\n", r.SSID)
		fmt.Fprintf(w, "  Passphrase: %t\n", r.HasPassphrase)
	}
	fmt.Fprintln(w, headerStyle.Render("Addressing"))
	if r.IPType == "static" {
		fmt.Fprintf(w, "  Static: %s netmask %s gateway %s\n", r.Address, r.Netmask, r.Gateway)
	} else {
		fmt.Fprintln(w, "  DHCP")
	}
	return nil
}

// runIP edits the stored addressing: "dhcp", or "static <address> <netmask> <gateway>".
func runIP(w io.Writer, st *store.Store, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("ip requires dhcp or static")
	}
	switch strings.ToLower(args[0]) {
	case "dhcp":
		if len(args) != 1 {
			return fmt.Errorf("ip dhcp takes no arguments")
		}
		if err := st.SaveIPConfig(nil); err != nil {
			return err
		}
		fmt.Fprintln(w, "Using DHCP")
		return nil
	case "static":
		if len(args) != 4 {
			return fmt.Errorf("ip static requires <address> <netmask> <gateway>")
		}
		cfg, err := wifi.ParseStaticIPConfig(args[1], args[2], args[3])
		if err != nil {
			return err
		}
		if err := st.SaveIPConfig(&cfg); err != nil {
			return err
		}
		fmt.Fprintf(w, "Using static address %s\n", cfg.Address)
		return nil
	}
	return fmt.Errorf("unknown ip mode %q, expected dhcp or static", args[0])
}

func runForget(w io.Writer, st *store.Store) error {
	if err := st.Clear(); err != nil {
		return fmt.Errorf("failed to clear stored records: %w", err)
	}
	fmt.Fprintln(w, "Forgot stored network and addressing")
	return nil
}

func runQR(w io.Writer, ssid, passphrase string) error {
	if !wifi.ValidPassphrase(passphrase) {
		passphrase = ""
	}
	code, err := GenerateWifiQRCode(ssid, passphrase)
	if err != nil {
		return fmt.Errorf("failed to generate qr code: %w", err)
	}
	fmt.Fprint(w, code)
	fmt.Fprintf(w, "Join %q to configure this device\n", ssid)
	return nil
}

type runOptions struct {
	APName     string
	APPassword string
	Timeout    time.Duration
	// Auto tries the stored network first and only opens the portal when
	// that fails.
	Auto     bool
	HTTPAddr string
	Hostname string
	Config   portal.Config
	Params   []portal.Parameter
	Clock    clock.Clock
}

// runPortal provisions the radio and reports whether the station ended up
// associated.
func runPortal(ctx context.Context, w io.Writer, radio wifi.Radio, st *store.Store, logger *slog.Logger, opts runOptions) (bool, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	if opts.Auto {
		if creds, ok := st.Load(); ok {
			ctrl := portal.NewController(radio, st, clk, logger)
			ctrl.Timeout = opts.Config.ConnectTimeout
			ctrl.PollInterval = opts.Config.ConnectPollInterval
			ctrl.TryWPS = opts.Config.TryWPS
			logger.Info("trying stored network", "ssid", creds.SSID)
			if ctrl.Connect(ctx, creds.SSID, creds.Passphrase) == portal.OutcomeConnected {
				fmt.Fprintf(w, "Connected to %q\n", creds.SSID)
				return true, nil
			}
			logger.Info("stored network unavailable, opening portal", "outcome", ctrl.LastOutcome, "error", ctrl.LastError)
		}
	}

	ln, err := net.Listen("tcp", opts.HTTPAddr)
	if err != nil {
		return false, fmt.Errorf("failed to listen for http: %w", err)
	}

	p := portal.New(radio, st,
		portal.WithConfig(opts.Config),
		portal.WithClock(clk),
		portal.WithLogger(logger),
		portal.WithNotifier(portal.NotifierFuncs{
			EnterProvisioning: func(p *portal.Portal) {
				s := p.Status()
				fmt.Fprintf(w, "Join %q and browse to http://%s/\n", s.AccessPointSSID, s.AccessPointAddr)
			},
			CredentialsSaved: func() {
				logger.Info("credentials saved")
			},
		}),
	)
	for _, param := range opts.Params {
		if err := p.AddParameter(param); err != nil {
			ln.Close()
			return false, err
		}
	}
	if err := p.Start(ctx, opts.APName, opts.APPassword, opts.Timeout); err != nil {
		ln.Close()
		return false, err
	}
	if opts.Timeout > 0 {
		fmt.Fprintf(w, "Portal closes in %s\n", formatDuration(opts.Timeout))
	}

	srv := httpapi.New(p, httpapi.Options{
		Hostname: opts.Hostname,
		Logs:     log.Lines,
		Logger:   logger,
	})
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx, ln) }()

	connected, err := p.Run(ctx)
	if serr := <-errc; serr != nil && err == nil {
		err = serr
	}
	if connected {
		fmt.Fprintln(w, "Connected")
	}
	return connected, err
}
