// ABOUTME: Entry point for the support-gateway realtime chat server
// ABOUTME: Dispatches serve, init, user, token, history and health subcommands

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/homedecor/support-gateway/internal/config"
	"github.com/homedecor/support-gateway/internal/gateway"
	"github.com/homedecor/support-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                     _                      _
  ___ _   _ _ __  _ __   ___  _ __| |_    __ _  __ _| |_ _____      ____ _ _   _
 / __| | | | '_ \| '_ \ / _ \| '__| __|  / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 \__ \ |_| | |_) | |_) | (_) | |  | |_  | (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |___/\__,_| .__/| .__/ \___/|_|   \__|  \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
           |_|   |_|                     |___/                             |___/
`

const usage = `Usage: support-gateway <command> [flags]

Commands:
  serve                  Start the gateway server
  init                   Create a new config file interactively
  user add|list          Manage chat users
  token --user ID        Issue a chat token for a user
  token revoke --token T Denylist a token until it expires
  history --name NAME    Print the messages of a conversation
  health                 Check gateway health

Every command accepts --config PATH (default $SUPPORT_GATEWAY_CONFIG or
~/.config/support-gateway/gateway.yaml).
`

var errUsage = errors.New("invalid usage")

func main() {
	// A .env next to the binary is optional
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		return runServe(ctx, rest, out)
	case "init":
		return runInit(rest, os.Stdin, out)
	case "user":
		return runUser(ctx, rest, out)
	case "token":
		return runToken(ctx, rest, out)
	case "history":
		return runHistory(ctx, rest, out)
	case "health":
		return runHealth(ctx, rest, out)
	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}
}

// newFlagSet creates a subcommand flag set with the shared --config flag.
func newFlagSet(name string, out io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	configPath := fs.String("config", config.DefaultPath(), "path to the config file")
	return fs, configPath
}

// openStore opens the configured database directly.
func openStore(ctx context.Context, cfg *config.Config) (*store.SQLStore, error) {
	dsn := cfg.Database.Path
	if cfg.Database.Driver == store.DriverPostgres {
		dsn = cfg.Database.DSN
	}
	s, err := store.Open(ctx, cfg.Database.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func runServe(ctx context.Context, args []string, out io.Writer) error {
	fs, configPath := newFlagSet("serve", out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Fprint(out, banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Fprintf(out, "    version: %s\n\n", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, out)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Config:    %s\n", *configPath)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Database:  %s\n", cfg.Database.Driver)
	green.Fprint(out, "    ▶ ")
	fmt.Fprintf(out, "Joins:     %s\n", cfg.Chat.JoinPolicy)
	if cfg.Relay.RedisURL != "" {
		green.Fprint(out, "    ▶ ")
		fmt.Fprint(out, "Relay:     ")
		cyan.Fprint(out, cfg.Relay.Channel)
		yellow.Fprint(out, " [multi-instance]")
		fmt.Fprintln(out)
	}
	if cfg.Jobs.RedisURL != "" {
		green.Fprint(out, "    ▶ ")
		fmt.Fprintf(out, "Jobs:      asynq (concurrency %d)\n", cfg.Jobs.Concurrency)
	}
	fmt.Fprintln(out)

	logger.Info("starting support-gateway",
		"config", *configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"version", version,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}
	return gw.Run(ctx)
}

func runHealth(ctx context.Context, args []string, out io.Writer) error {
	fs, configPath := newFlagSet("health", out)
	ready := fs.Bool("ready", false, "check readiness (database reachable) instead of liveness")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	path := "/health"
	if *ready {
		path = "/health/ready"
	}
	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, body)
	}

	fmt.Fprintln(out, string(body))
	return nil
}
