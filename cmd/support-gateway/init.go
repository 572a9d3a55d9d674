// ABOUTME: Interactive config file generator for the init subcommand
// ABOUTME: Prompts for addresses and storage, generates a random JWT secret

package main

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/homedecor/support-gateway/internal/config"
)

// getDataPath returns the data directory.
// Priority: XDG_DATA_HOME/support-gateway > ~/.local/share/support-gateway
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "support-gateway")
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

// buildInitConfig collects answers into a config document. Durations are
// written as strings so config.Load can parse them back.
func buildInitConfig(reader *bufio.Reader, out io.Writer) (*config.Config, error) {
	cfg := &config.Config{}

	fmt.Fprintln(out, "\n--- Server Configuration ---")
	cfg.Server.HTTPAddr = prompt(reader, out, "HTTP address", "localhost:8080")
	if origins := prompt(reader, out, "Allowed browser origins (comma separated, empty for same-origin)", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.Server.AllowedOrigins = append(cfg.Server.AllowedOrigins, o)
			}
		}
	}

	fmt.Fprintln(out, "\n--- Database Configuration ---")
	cfg.Database.Driver = prompt(reader, out, "Driver (sqlite/postgres)", "sqlite")
	switch cfg.Database.Driver {
	case "postgres":
		cfg.Database.DSN = prompt(reader, out, "PostgreSQL DSN", "postgres://localhost/support?sslmode=disable")
	case "sqlite":
		cfg.Database.Path = prompt(reader, out, "SQLite database path", filepath.Join(getDataPath(), "gateway.db"))
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Database.Driver)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}
	cfg.Auth.JWTSecret = secret
	cfg.Auth.TokenTTLRaw = "24h"

	fmt.Fprintln(out, "\n--- Chat Configuration ---")
	cfg.Chat.JoinPolicy = prompt(reader, out, "Join policy (open/participant)", "open")

	fmt.Fprintln(out, "\n--- Redis (optional) ---")
	if redisURL := prompt(reader, out, "Redis URL for multi-instance relay and jobs (empty to run alone)", ""); redisURL != "" {
		cfg.Relay.RedisURL = redisURL
		cfg.Relay.Channel = "support-gateway:fanout"
		cfg.Jobs.RedisURL = redisURL
		cfg.Auth.DenylistRedisURL = redisURL
	}

	fmt.Fprintln(out, "\n--- Mail (optional) ---")
	if host := prompt(reader, out, "SMTP host (empty to only log emails)", ""); host != "" {
		cfg.Mail.SMTPHost = host
		cfg.Mail.Username = prompt(reader, out, "SMTP username", "")
		cfg.Mail.Password = prompt(reader, out, "SMTP password", "")
	}
	cfg.Mail.From = prompt(reader, out, "Sender address", "support@localhost")
	cfg.Mail.AdminEmail = prompt(reader, out, "Admin address for contact requests", cfg.Mail.From)

	fmt.Fprintln(out, "\n--- Logging Configuration ---")
	cfg.Logging.Level = prompt(reader, out, "Log level (debug/info/warn/error)", "info")
	cfg.Logging.Format = prompt(reader, out, "Log format (text/json)", "text")

	cfg.Metrics.Enabled = isYes(prompt(reader, out, "Expose Prometheus metrics?", "yes"))
	cfg.Metrics.Path = "/metrics"

	return cfg, nil
}

func runInit(args []string, in io.Reader, out io.Writer) error {
	fs, configPath := newFlagSet("init", out)
	if err := fs.Parse(args); err != nil {
		return err
	}
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "support-gateway configuration setup")
	fmt.Fprintln(out, "===================================")
	fmt.Fprintln(out)

	outputFile := prompt(reader, out, "Config file path", *configPath)
	if _, err := os.Stat(outputFile); err == nil {
		if !isYes(prompt(reader, out, "File exists. Overwrite?", "no")) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	cfg, err := buildInitConfig(reader, out)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	header := "# support-gateway configuration\n# Generated by support-gateway init\n\n"

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file carries the JWT secret
	if err := os.WriteFile(outputFile, append([]byte(header), data...), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	if cfg.Database.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Fprintf(out, "\nConfig written to %s\n", outputFile)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  support-gateway user add --name \"Agent\" --email agent@example.com --support --admin")
	fmt.Fprintln(out, "  support-gateway serve")
	return nil
}

func prompt(reader *bufio.Reader, out io.Writer, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "%s [%s]: ", question, defaultVal)
	} else {
		fmt.Fprintf(out, "%s: ", question)
	}

	input, err := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if err != nil && input == "" {
		// On EOF or error, return default
		fmt.Fprintln(out)
		return defaultVal
	}
	if input == "" {
		return defaultVal
	}
	return input
}
