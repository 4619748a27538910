package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattyg/ui-common-library/internal/cli"
	"github.com/mattyg/ui-common-library/internal/config"
	"github.com/mattyg/ui-common-library/internal/version"
	"github.com/mattyg/ui-common-library/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	args, err := parseFlags(cfg, os.Args[1:])
	if err != nil {
		return err
	}
	if args == nil {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.SetLevel(cfg.Level())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cli.NewApp(cfg, os.Stdout)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("Failed to stop metrics server: %v", err)
		}
	}()

	if len(args) == 0 {
		printUsage()
		return nil
	}

	switch args[0] {
	case "info":
		return app.InfoCommand(ctx)
	case "call":
		return app.CallCommand(ctx, args[1:])
	case "watch":
		return app.WatchCommand(ctx)
	case "agent":
		return app.AgentCommand(ctx, args[1:])
	case "sign-in", "sign-up", "sign-out":
		return app.AuthCommand(ctx, args[0])
	case "version", "--version", "-v":
		fmt.Printf("happclient %s\n", version.RichVersion())
		return nil
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// parseFlags applies global flags to cfg and returns the remaining args. A
// nil result means usage was printed.
func parseFlags(cfg *config.Config, args []string) ([]string, error) {
	fs := flag.NewFlagSet("happclient", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	appID := fs.String("app-id", "", "Installed app id")
	url := fs.String("url", "", "Conductor app interface URL")
	transport := fs.String("transport", "", "Transport (direct|hosted)")
	mock := fs.Bool("mock", false, "Use the in-process hosted gateway stand-in")
	metrics := fs.String("metrics", "", "Serve Prometheus metrics on this address")
	debug := fs.Bool("debug", false, "Enable debug logging")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *showHelp {
		printUsage()
		return nil, nil
	}

	if *appID != "" {
		cfg.AppID = *appID
	}
	if *url != "" {
		cfg.AppWSURL = *url
	}
	if *transport != "" {
		cfg.Transport = *transport
	}
	if *mock {
		cfg.HostedMock = true
	}
	if *metrics != "" {
		cfg.MetricsAddr = *metrics
	}
	if *debug {
		cfg.Debug = true
	}

	return fs.Args(), nil
}

func printUsage() {
	fmt.Println(`happclient - talk to a Holochain app over a conductor or hosted gateway

Usage:
  happclient [flags] info                 Print the app descriptor
  happclient [flags] call [call flags]    Call a zome function
  happclient [flags] watch                Print app signals until interrupted
  happclient [flags] agent [-qr]          Print the agent id
  happclient [flags] sign-in|sign-up      Authenticate with the hosted gateway
  happclient [flags] sign-out             End the hosted session
  happclient version                      Show version information

Call flags:
  -role        Role name of the target cell
  -cell-dna    DNA hash of the target cell (with -cell-agent)
  -cell-agent  Agent key of the target cell (with -cell-dna)
  -zome        Zome name
  -fn          Function name
  -payload     JSON payload

Environment Variables:
  HAPP_HOME         Config directory (default: ~/.happclient)
  HAPP_APP_ID       Installed app id
  HAPP_APP_WS_URL   Conductor app interface URL (default: ws://localhost:8888)
  HAPP_TRANSPORT    direct|hosted (default: direct)
  HAPP_HOSTED_URL   Hosted gateway URL
  HAPP_HAPP_ID      Hosted happ id
  HAPP_HOSTED_MOCK  Use the hosted gateway stand-in (true/1)
  HAPP_LOG_LEVEL    trace|debug|info|warn|error
  HAPP_METRICS_ADDR Serve Prometheus metrics on this address
  DEBUG             Enable debug logging (true/1)

Flags:
  -app-id      Installed app id
  -url         Conductor app interface URL
  -transport   direct|hosted
  -mock        Use the hosted gateway stand-in
  -metrics     Serve Prometheus metrics on this address
  -debug       Enable debug logging

Examples:
  # Print the descriptor of an app on a local conductor
  happclient -app-id forum info

  # Call a zome function by role
  happclient -app-id forum call -role forum -zome posts -fn get_all_posts`)
}
