// ABOUTME: Tests for the support-gateway CLI subcommands
// ABOUTME: Drives run() against a temp config and sqlite database

package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homedecor/support-gateway/internal/auth"
	"github.com/homedecor/support-gateway/internal/config"
	"github.com/homedecor/support-gateway/internal/store"
)

const cliSecret = "cli-test-secret-with-at-least-32-bytes"

// writeConfig writes a minimal YAML config and returns its path and db path.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "gateway.db")
	path := filepath.Join(dir, "gateway.yaml")
	content := fmt.Sprintf(`server:
  http_addr: "127.0.0.1:0"
database:
  path: %q
auth:
  jwt_secret: %q
`, dbPath, cliSecret)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path, dbPath
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestRun_Usage(t *testing.T) {
	_, err := runCLI(t)
	assert.ErrorIs(t, err, errUsage)

	_, err = runCLI(t, "frobnicate")
	assert.ErrorIs(t, err, errUsage)

	out, err := runCLI(t, "help")
	require.NoError(t, err)
	assert.Contains(t, out, "Commands:")
}

func TestUserAddAndList(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := runCLI(t, "user", "add", "--config", cfgPath,
		"--id", "7", "--name", "Agent Ada", "--email", "ada@example.com", "--support", "--admin")
	require.NoError(t, err)
	assert.Contains(t, out, "Created user 7")

	_, err = runCLI(t, "user", "add", "--config", cfgPath, "--name", "Carl", "--email", "carl@example.com")
	require.NoError(t, err)

	_, err = runCLI(t, "user", "add", "--config", cfgPath, "--name", "Ada again", "--email", "ada@example.com")
	assert.Error(t, err)

	_, err = runCLI(t, "user", "add", "--config", cfgPath, "--name", "No email")
	assert.ErrorIs(t, err, errUsage)

	out, err = runCLI(t, "user", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Agent Ada")
	assert.Contains(t, out, "support, admin")
	assert.Contains(t, out, "customer")
}

func TestToken_VerifiesAgainstConfiguredSecret(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	out, err := runCLI(t, "token", "--config", cfgPath, "--user", "42", "--email", "carla@example.com")
	require.NoError(t, err)

	v, err := auth.NewJWTVerifier([]byte(cliSecret))
	require.NoError(t, err)
	userID, err := v.Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)

	_, err = runCLI(t, "token", "--config", cfgPath)
	assert.ErrorIs(t, err, errUsage)
}

type fakeRevoker struct {
	revoked map[string]time.Duration
}

func (r *fakeRevoker) Revoke(_ context.Context, token string, ttl time.Duration) error {
	r.revoked[token] = ttl
	return nil
}

func TestTokenRevoke(t *testing.T) {
	cfgPath, _ := writeConfig(t)

	_, err := runCLI(t, "token", "revoke", "--config", cfgPath, "--token", "abc")
	assert.ErrorContains(t, err, "denylist_redis_url")

	f, err := os.OpenFile(cfgPath, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("  denylist_redis_url: \"redis://127.0.0.1:6379/0\"\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	fake := &fakeRevoker{revoked: map[string]time.Duration{}}
	var dialedURL string
	orig := dialRevoker
	dialRevoker = func(_ context.Context, url string) (auth.Revoker, func() error, error) {
		dialedURL = url
		return fake, func() error { return nil }, nil
	}
	t.Cleanup(func() { dialRevoker = orig })

	token, err := runCLI(t, "token", "--config", cfgPath, "--user", "42", "--ttl", "1h")
	require.NoError(t, err)
	token = strings.TrimSpace(token)

	out, err := runCLI(t, "token", "revoke", "--config", cfgPath, "--token", token)
	require.NoError(t, err)
	assert.Contains(t, out, "Token revoked")
	assert.Equal(t, "redis://127.0.0.1:6379/0", dialedURL)
	require.Contains(t, fake.revoked, token)
	assert.InDelta(t, time.Hour.Seconds(), fake.revoked[token].Seconds(), 60)

	v, err := auth.NewJWTVerifier([]byte(cliSecret))
	require.NoError(t, err)
	expired, err := v.Generate(42, "", -time.Minute)
	require.NoError(t, err)
	out, err = runCLI(t, "token", "revoke", "--config", cfgPath, "--token", expired)
	require.NoError(t, err)
	assert.Contains(t, out, "already expired")
	assert.NotContains(t, fake.revoked, expired)

	_, err = runCLI(t, "token", "revoke", "--config", cfgPath, "--token", "not-a-jwt")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = runCLI(t, "token", "revoke", "--config", cfgPath)
	assert.ErrorIs(t, err, errUsage)
}

func TestHistory(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)
	ctx := t.Context()

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	agent := &store.User{Name: "Agent Ada", Email: "ada@example.com", IsSupport: true, IsAdmin: true}
	customer := &store.User{Name: "Carla", Email: "carla@example.com"}
	require.NoError(t, s.CreateUser(ctx, agent))
	require.NoError(t, s.CreateUser(ctx, customer))
	conv, err := s.FindOrCreateConversation(ctx, "order-99", customer.ID, agent.ID)
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, customer.ID, "Where is my lamp?")
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, conv.ID, agent.ID, "Shipped today.")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	out, err := runCLI(t, "history", "--config", cfgPath, "--name", "order-99")
	require.NoError(t, err)
	assert.Contains(t, out, "# order-99")
	assert.Contains(t, out, "Carla: Where is my lamp?")
	assert.Contains(t, out, "Agent Ada: Shipped today.")
	assert.Less(t, strings.Index(out, "lamp"), strings.Index(out, "Shipped"))

	out, err = runCLI(t, "history", "--config", cfgPath, "--name", "order-1")
	require.NoError(t, err)
	assert.Contains(t, out, "no conversation")
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "conf", "gateway.yaml")
	dbPath := filepath.Join(dir, "data", "gateway.db")

	// config path, http addr, origins and driver take defaults; the rest hit EOF
	answers := strings.Join([]string{"", "", "", "", dbPath}, "\n") + "\n"
	var out bytes.Buffer
	require.NoError(t, runInit([]string{"--config", cfgPath}, strings.NewReader(answers), &out))
	assert.Contains(t, out.String(), "Config written to "+cfgPath)

	info, err := os.Stat(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, dbPath, cfg.Database.Path)
	assert.Equal(t, "open", cfg.Chat.JoinPolicy)
	assert.GreaterOrEqual(t, len(cfg.Auth.JWTSecret), auth.MinSecretLength)
	assert.Equal(t, "support@localhost", cfg.Mail.AdminEmail)
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newColorHandler(&buf, slog.LevelInfo))

	logger.Debug("hidden")
	logger.With("component", "hub").WithGroup("conn").Info("joined", "id", "c1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "joined")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "conn.id=")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
