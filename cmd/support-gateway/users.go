// ABOUTME: Operator subcommands working directly on the database
// ABOUTME: user add/list, token issuing and revocation, conversation history dumps

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/homedecor/support-gateway/internal/auth"
	"github.com/homedecor/support-gateway/internal/config"
	"github.com/homedecor/support-gateway/internal/relay"
	"github.com/homedecor/support-gateway/internal/store"
)

func runUser(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: user requires add or list", errUsage)
	}
	switch args[0] {
	case "add":
		return runUserAdd(ctx, args[1:], out)
	case "list":
		return runUserList(ctx, args[1:], out)
	default:
		return fmt.Errorf("%w: unknown user command %q", errUsage, args[0])
	}
}

func runUserAdd(ctx context.Context, args []string, out io.Writer) error {
	fs, configPath := newFlagSet("user add", out)
	id := fs.Int64("id", 0, "user ID to mirror from the storefront (0 assigns one)")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	support := fs.Bool("support", false, "user is a support agent")
	admin := fs.Bool("admin", false, "user is an admin")
	if err := fs.Parse(args); err != nil {
		return err
	}

	*name = strings.TrimSpace(*name)
	*email = strings.TrimSpace(*email)
	if *name == "" || *email == "" {
		return fmt.Errorf("%w: --name and --email are required", errUsage)
	}
	if *id < 0 {
		return fmt.Errorf("%w: --id must not be negative", errUsage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	user := &store.User{ID: *id, Name: *name, Email: *email, IsSupport: *support, IsAdmin: *admin}
	if err := s.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			return fmt.Errorf("user with email %s or ID %d already exists", *email, *id)
		}
		return fmt.Errorf("creating user: %w", err)
	}

	color.New(color.FgGreen).Fprintf(out, "  ✓ Created user %d: %s <%s> (%s)\n", user.ID, user.Name, user.Email, role(user))
	return nil
}

func role(u *store.User) string {
	switch {
	case u.IsSupport && u.IsAdmin:
		return "support, admin"
	case u.IsSupport:
		return "support"
	case u.IsAdmin:
		return "admin"
	default:
		return "customer"
	}
}

func runUserList(ctx context.Context, args []string, out io.Writer) error {
	fs, configPath := newFlagSet("user list", out)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	users, err := s.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tROLE")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, role(u))
	}
	return tw.Flush()
}

func runToken(ctx context.Context, args []string, out io.Writer) error {
	if len(args) > 0 && args[0] == "revoke" {
		return runTokenRevoke(ctx, args[1:], out)
	}

	fs, configPath := newFlagSet("token", out)
	userID := fs.Int64("user", 0, "user ID the token authenticates")
	email := fs.String("email", "", "email claim to embed")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID <= 0 {
		return fmt.Errorf("%w: --user is required", errUsage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *ttl == 0 {
		*ttl = cfg.Auth.TokenTTL
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(*userID, *email, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(out, token)
	return nil
}

// dialRevoker connects to the denylist redis. Tests replace it.
var dialRevoker = func(ctx context.Context, url string) (auth.Revoker, func() error, error) {
	client, err := relay.Dial(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return auth.NewRedisDenylist(client), client.Close, nil
}

func runTokenRevoke(ctx context.Context, args []string, out io.Writer) error {
	fs, configPath := newFlagSet("token revoke", out)
	token := fs.String("token", "", "token to revoke")
	if err := fs.Parse(args); err != nil {
		return err
	}
	*token = strings.TrimSpace(*token)
	if *token == "" {
		return fmt.Errorf("%w: --token is required", errUsage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Auth.DenylistRedisURL == "" {
		return errors.New("auth.denylist_redis_url is not configured")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}
	expiresAt, err := verifier.ExpiresAt(*token)
	if errors.Is(err, auth.ErrExpiredToken) {
		fmt.Fprintln(out, "Token already expired, nothing to revoke")
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking token: %w", err)
	}

	revoker, closeFn, err := dialRevoker(ctx, cfg.Auth.DenylistRedisURL)
	if err != nil {
		return fmt.Errorf("connecting to denylist: %w", err)
	}
	defer closeFn()

	if err := revoker.Revoke(ctx, *token, time.Until(expiresAt)); err != nil {
		return err
	}
	color.New(color.FgGreen).Fprintf(out, "  ✓ Token revoked until %s\n", expiresAt.Local().Format(time.DateTime))
	return nil
}

func runHistory(ctx context.Context, args []string, out io.Writer) error {
	fs, configPath := newFlagSet("history", out)
	name := fs.String("name", "", "conversation name")
	limit := fs.Int("limit", 50, "most recent messages per conversation (0 for all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*name) == "" {
		return fmt.Errorf("%w: --name is required", errUsage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	convs, err := s.ListConversationsByName(ctx, strings.TrimSpace(*name))
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	if len(convs) == 0 {
		fmt.Fprintf(out, "no conversation named %q\n", *name)
		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, c := range convs {
		cyan.Fprintf(out, "# %s (id %d, user %d, support %d)\n", c.Name, c.ID, c.UserID, c.SupportID)

		msgs, err := s.ListMessages(ctx, c.ID, *limit)
		if err != nil {
			return fmt.Errorf("listing messages: %w", err)
		}
		for _, m := range msgs {
			sender := fmt.Sprintf("user %d", m.SenderID)
			if m.Sender != nil {
				sender = m.Sender.Name
			}
			gray.Fprintf(out, "%s ", m.CreatedAt.Local().Format(time.DateTime))
			fmt.Fprintf(out, "%s: %s\n", sender, m.Content)
		}
		fmt.Fprintln(out)
	}
	return nil
}
