package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"

	"github.com/shazow/wifiportal/internal/httpapi"
	"github.com/shazow/wifiportal/internal/log"
	"github.com/shazow/wifiportal/internal/store"
	"github.com/shazow/wifiportal/portal"
)

var (
	// Version is the version of the application. It is set at build time.
	Version string = "dev"
)

const defaultStateDir = "/var/lib/wifiportal"

// errNotConnected makes run exit non-zero when the portal closes without a
// working station association.
var errNotConnected = errors.New("portal closed without a connection")

func main() {
	var (
		rootFlagSet = flag.NewFlagSet("wifiportal", flag.ExitOnError)
		configPath  = rootFlagSet.String("config", "", "path to toml config file (env: WIFIPORTAL_CONFIG)")
		stateDir    = rootFlagSet.String("state-dir", defaultStateDir, "directory holding the stored network records")
		logLevel    = rootFlagSet.String("log-level", "info", "debug, info, warn or error")
		logFile     = rootFlagSet.String("log-file", "", "also write logs to this file")
		apName      = rootFlagSet.String("ap-name", "wifiportal", "name of the provisioning network")
		apPassword  = rootFlagSet.String("ap-password", "", "passphrase of the provisioning network, 8-63 bytes or empty for open")
		timeout     = rootFlagSet.Duration("timeout", 0, "close the portal after this long, 0 keeps it open")
		auto        = rootFlagSet.Bool("auto", false, "try the stored network first and only open the portal if that fails")
		httpAddr    = rootFlagSet.String("http", ":80", "address of the setup http server")
		hostname    = rootFlagSet.String("hostname", httpapi.DefaultHostname, "host name served without a captive redirect")
		version     = rootFlagSet.Bool("version", false, "display version")
	)

	var (
		logger *slog.Logger
		st     *store.Store
	)

	runFlow := func(ctx context.Context, args []string) error {
		cfg, params, err := LoadConfig(*configPath, portal.DefaultConfig(), logger)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		radio, err := GetRadio(logger)
		if err != nil {
			return err
		}
		connected, err := runPortal(ctx, os.Stdout, radio, st, logger, runOptions{
			APName:     *apName,
			APPassword: *apPassword,
			Timeout:    *timeout,
			Auto:       *auto,
			HTTPAddr:   *httpAddr,
			Hostname:   *hostname,
			Config:     cfg,
			Params:     params,
		})
		if err != nil {
			return err
		}
		if !connected {
			return errNotConnected
		}
		return nil
	}

	runCmd := &ffcli.Command{
		Name:       "run",
		ShortUsage: "wifiportal [flags] run",
		ShortHelp:  "Open the provisioning portal and wait until the device is configured",
		Exec:       runFlow,
	}

	scanFlagSet := flag.NewFlagSet("scan", flag.ExitOnError)
	scanJSON := scanFlagSet.Bool("json", false, "output in JSON format")
	scanMinQuality := scanFlagSet.Int("min-quality", portal.DefaultMinimumQuality, "hide networks below this 0-100 quality, negative shows all")
	scanAll := scanFlagSet.Bool("all", false, "include duplicate and low quality entries")
	scanCmd := &ffcli.Command{
		Name:      "scan",
		ShortHelp: "Scan and list nearby networks, strongest first",
		FlagSet:   scanFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			radio, err := GetRadio(logger)
			if err != nil {
				return err
			}
			return runScan(os.Stdout, radio, scanOptions{JSON: *scanJSON, MinQuality: *scanMinQuality, All: *scanAll})
		},
	}

	statusFlagSet := flag.NewFlagSet("status", flag.ExitOnError)
	statusJSON := statusFlagSet.Bool("json", false, "output in JSON format")
	statusCmd := &ffcli.Command{
		Name:      "status",
		ShortHelp: "Show the stored network and addressing",
		FlagSet:   statusFlagSet,
		Exec: func(ctx context.Context, args []string) error {
			return runStatus(os.Stdout, st, *statusJSON)
		},
	}

	ipCmd := &ffcli.Command{
		Name:       "ip",
		ShortUsage: "wifiportal ip dhcp | static <address> <netmask> <gateway>",
		ShortHelp:  "Set how the station is addressed on its next association",
		Exec: func(ctx context.Context, args []string) error {
			return runIP(os.Stdout, st, args)
		},
	}

	forgetCmd := &ffcli.Command{
		Name:      "forget",
		ShortHelp: "Clear the stored network and addressing",
		Exec: func(ctx context.Context, args []string) error {
			return runForget(os.Stdout, st)
		},
	}

	qrCmd := &ffcli.Command{
		Name:      "qr",
		ShortHelp: "Show a QR code for joining the provisioning network",
		Exec: func(ctx context.Context, args []string) error {
			return runQR(os.Stdout, *apName, *apPassword)
		},
	}

	root := &ffcli.Command{
		ShortUsage:  "wifiportal [flags] <subcommand> [args...]",
		FlagSet:     rootFlagSet,
		Subcommands: []*ffcli.Command{runCmd, scanCmd, statusCmd, ipCmd, forgetCmd, qrCmd},
		Options: []ff.Option{
			ff.WithEnvVarPrefix("WIFIPORTAL"),
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(tomlParser),
			ff.WithAllowMissingConfigFile(true),
			ff.WithIgnoreUndefined(true),
		},
		Exec: runFlow,
	}

	if err := root.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if *version {
		fmt.Println(Version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	var out io.Writer = os.Stderr
	var f *os.File
	if *logFile != "" {
		var err error
		f, err = os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
			os.Exit(1)
		}
		out = io.MultiWriter(os.Stderr, f)
	}
	logger = log.Init(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	st = store.New(*stateDir, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.Run(ctx)
	stop()
	if f != nil {
		f.Close()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
