// ABOUTME: SQL implementation of the Store interface built on sqlx
// ABOUTME: Supports SQLite (modernc.org/sqlite) and PostgreSQL (lib/pq) with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout is fixed width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore implements the Store interface on top of a SQL database
type SQLStore struct {
	db     *sqlx.DB
	driver string
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*SQLStore)(nil)

// Open connects to the database for the given driver. For sqlite the dsn is
// a file path; for postgres it is a lib/pq connection string or URL.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteStore(dsn)
	case DriverPostgres:
		return NewPostgresStore(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sqlx.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite has a single writer; one pooled connection keeps transactions
	// from failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s, err := newSQLStore(db, DriverSQLite)
	if err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// NewPostgresStore connects to PostgreSQL and creates the schema if needed.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	s, err := newSQLStore(db, DriverPostgres)
	if err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("PostgreSQL store initialized")
	return s, nil
}

func newSQLStore(db *sqlx.DB, driver string) (*SQLStore, error) {
	s := wrapDB(db, driver)
	if err := s.createSchema(); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// wrapDB builds a store around an open handle without touching the schema.
func wrapDB(db *sqlx.DB, driver string) *SQLStore {
	return &SQLStore{
		db:     db,
		driver: driver,
		logger: slog.Default().With("component", "store", "driver", driver),
		now:    time.Now,
	}
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL UNIQUE,
		is_support INTEGER NOT NULL DEFAULT 0,
		is_admin   INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT NOT NULL,
		user_id    INTEGER NOT NULL REFERENCES users(id),
		support_id INTEGER NOT NULL REFERENCES users(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_triple
		ON conversations(name, user_id, support_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_user
		ON conversations(user_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_support
		ON conversations(support_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id       INTEGER NOT NULL REFERENCES users(id),
		content         TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages(conversation_id, created_at, id);
`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		email      TEXT NOT NULL UNIQUE,
		is_support BOOLEAN NOT NULL DEFAULT FALSE,
		is_admin   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversations (
		id         BIGSERIAL PRIMARY KEY,
		name       TEXT NOT NULL,
		user_id    BIGINT NOT NULL REFERENCES users(id),
		support_id BIGINT NOT NULL REFERENCES users(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_triple
		ON conversations(name, user_id, support_id);
	CREATE INDEX IF NOT EXISTS idx_conversations_user
		ON conversations(user_id, updated_at);
	CREATE INDEX IF NOT EXISTS idx_conversations_support
		ON conversations(support_id, updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id              BIGSERIAL PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id       BIGINT NOT NULL REFERENCES users(id),
		content         TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
		ON messages(conversation_id, created_at, id);
`

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	_, err := s.db.Exec(schema)
	return err
}

const (
	userColumns         = `id, name, email, is_support, is_admin, created_at`
	conversationColumns = `id, name, user_id, support_id, created_at, updated_at`
	messageSelect       = `SELECT m.id AS id, m.conversation_id AS conversation_id, m.sender_id AS sender_id,
		m.content AS content, m.created_at AS created_at,
		u.name AS sender_name, u.email AS sender_email, u.is_support AS sender_is_support,
		u.is_admin AS sender_is_admin, u.created_at AS sender_created_at
		FROM messages m JOIN users u ON u.id = m.sender_id`
)

type userRow struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	Email     string `db:"email"`
	IsSupport bool   `db:"is_support"`
	IsAdmin   bool   `db:"is_admin"`
	CreatedAt string `db:"created_at"`
}

func (r *userRow) toUser() (*User, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &User{
		ID:        r.ID,
		Name:      r.Name,
		Email:     r.Email,
		IsSupport: r.IsSupport,
		IsAdmin:   r.IsAdmin,
		CreatedAt: createdAt,
	}, nil
}

type conversationRow struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	UserID    int64  `db:"user_id"`
	SupportID int64  `db:"support_id"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

func (r *conversationRow) toConversation() (*Conversation, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &Conversation{
		ID:        r.ID,
		Name:      r.Name,
		UserID:    r.UserID,
		SupportID: r.SupportID,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

type messageRow struct {
	ID              int64  `db:"id"`
	ConversationID  int64  `db:"conversation_id"`
	SenderID        int64  `db:"sender_id"`
	Content         string `db:"content"`
	CreatedAt       string `db:"created_at"`
	SenderName      string `db:"sender_name"`
	SenderEmail     string `db:"sender_email"`
	SenderIsSupport bool   `db:"sender_is_support"`
	SenderIsAdmin   bool   `db:"sender_is_admin"`
	SenderCreatedAt string `db:"sender_created_at"`
}

func (r *messageRow) toMessage() (*Message, error) {
	sender := userRow{
		ID:        r.SenderID,
		Name:      r.SenderName,
		Email:     r.SenderEmail,
		IsSupport: r.SenderIsSupport,
		IsAdmin:   r.SenderIsAdmin,
		CreatedAt: r.SenderCreatedAt,
	}
	user, err := sender.toUser()
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Content:        r.Content,
		CreatedAt:      createdAt,
		Sender:         user,
	}, nil
}

// CreateUser inserts a user and fills in CreatedAt. A non-zero ID is kept so
// storefront user IDs can be mirrored; a zero ID is assigned by the database.
func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}

	var row *sqlx.Row
	if user.ID != 0 {
		query := s.db.Rebind(`INSERT INTO users (id, name, email, is_support, is_admin, created_at)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)
		row = s.db.QueryRowxContext(ctx, query,
			user.ID, user.Name, user.Email, user.IsSupport, user.IsAdmin, formatTime(user.CreatedAt))
	} else {
		query := s.db.Rebind(`INSERT INTO users (name, email, is_support, is_admin, created_at)
			VALUES (?, ?, ?, ?, ?) RETURNING id`)
		row = s.db.QueryRowxContext(ctx, query,
			user.Name, user.Email, user.IsSupport, user.IsAdmin, formatTime(user.CreatedAt))
	}
	explicit := user.ID != 0
	err := row.Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	// Postgres sequences ignore explicit ids; move it past them so later
	// assigned ids do not collide.
	if explicit && s.driver == DriverPostgres {
		if _, err := s.db.ExecContext(ctx, syncUserSequence); err != nil {
			return fmt.Errorf("advancing user id sequence: %w", err)
		}
	}
	return nil
}

const syncUserSequence = `SELECT setval(pg_get_serial_sequence('users', 'id'), GREATEST((SELECT MAX(id) FROM users), 1))`

// GetUser retrieves a user by ID
func (s *SQLStore) GetUser(ctx context.Context, id int64) (*User, error) {
	var row userRow
	query := s.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying user: %w", err)
	}
	return row.toUser()
}

// ListUsers returns every user ordered by ID
func (s *SQLStore) ListUsers(ctx context.Context) ([]*User, error) {
	var rows []userRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+userColumns+` FROM users ORDER BY id`); err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	return toUsers(rows)
}

// ListReceivers returns the users the given user may open a chat with.
// Support agents see end users that are not admins; end users see support
// agents that are admins.
func (s *SQLStore) ListReceivers(ctx context.Context, user *User) ([]*User, error) {
	wantSupport := !user.IsSupport
	wantAdmin := !user.IsSupport

	var rows []userRow
	query := s.db.Rebind(`SELECT ` + userColumns + ` FROM users
		WHERE is_support = ? AND is_admin = ? AND id <> ? ORDER BY name, id`)
	if err := s.db.SelectContext(ctx, &rows, query, wantSupport, wantAdmin, user.ID); err != nil {
		return nil, fmt.Errorf("querying receivers: %w", err)
	}
	return toUsers(rows)
}

func toUsers(rows []userRow) ([]*User, error) {
	users := make([]*User, 0, len(rows))
	for i := range rows {
		u, err := rows[i].toUser()
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}

// FindOrCreateConversation returns the conversation identified by the
// (name, userID, supportID) triple, creating it when absent. A concurrent
// creator that loses the race on the unique index re-reads the winner's row.
func (s *SQLStore) FindOrCreateConversation(ctx context.Context, name string, userID, supportID int64) (*Conversation, error) {
	conv, err := s.findConversation(ctx, name, userID, supportID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	conv, err = s.createConversation(ctx, name, userID, supportID)
	if errors.Is(err, ErrDuplicateConversation) {
		s.logger.Debug("conversation creation hit duplicate, retrying lookup",
			"name", name,
			"user_id", userID,
			"support_id", supportID)
		return s.findConversation(ctx, name, userID, supportID)
	}
	return conv, err
}

func (s *SQLStore) findConversation(ctx context.Context, name string, userID, supportID int64) (*Conversation, error) {
	var row conversationRow
	query := s.db.Rebind(`SELECT ` + conversationColumns + ` FROM conversations
		WHERE name = ? AND user_id = ? AND support_id = ?`)
	if err := s.db.GetContext(ctx, &row, query, name, userID, supportID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return row.toConversation()
}

func (s *SQLStore) createConversation(ctx context.Context, name string, userID, supportID int64) (*Conversation, error) {
	now := s.now().UTC()
	conv := &Conversation{
		Name:      name,
		UserID:    userID,
		SupportID: supportID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := s.db.Rebind(`INSERT INTO conversations (name, user_id, support_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`)
	err := s.db.QueryRowxContext(ctx, query,
		name, userID, supportID, formatTime(now), formatTime(now),
	).Scan(&conv.ID)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return nil, ErrDuplicateConversation
		case isForeignKeyViolation(err):
			return nil, fmt.Errorf("conversation participant: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	return conv, nil
}

// GetConversation retrieves a conversation by ID
func (s *SQLStore) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	var row conversationRow
	query := s.db.Rebind(`SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return row.toConversation()
}

// ListConversationsForUser returns conversations where userID is either
// party, most recently active first. A limit <= 0 returns all of them.
func (s *SQLStore) ListConversationsForUser(ctx context.Context, userID int64, limit int) ([]*Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations
		WHERE user_id = ? OR support_id = ? ORDER BY updated_at DESC, id DESC`
	args := []any{userID, userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	var rows []conversationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	return toConversations(rows)
}

// ListConversationsByName returns every conversation sharing a name
func (s *SQLStore) ListConversationsByName(ctx context.Context, name string) ([]*Conversation, error) {
	var rows []conversationRow
	query := s.db.Rebind(`SELECT ` + conversationColumns + ` FROM conversations WHERE name = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &rows, query, name); err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	return toConversations(rows)
}

// FindLatestConversationBetween returns the most recently active conversation
// between an end user and a support agent, regardless of its name.
func (s *SQLStore) FindLatestConversationBetween(ctx context.Context, userID, supportID int64) (*Conversation, error) {
	var row conversationRow
	query := s.db.Rebind(`SELECT ` + conversationColumns + ` FROM conversations
		WHERE user_id = ? AND support_id = ? ORDER BY updated_at DESC, id DESC LIMIT 1`)
	if err := s.db.GetContext(ctx, &row, query, userID, supportID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return row.toConversation()
}

func toConversations(rows []conversationRow) ([]*Conversation, error) {
	convs := make([]*Conversation, 0, len(rows))
	for i := range rows {
		c, err := rows[i].toConversation()
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, nil
}

// AppendMessage stores a message in a conversation and returns it with the
// sender's display attributes. The conversation's updated_at is bumped in
// the same transaction; nothing is written when either the conversation or
// the sender does not exist.
func (s *SQLStore) AppendMessage(ctx context.Context, conversationID, senderID int64, content string) (*Message, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, s.db.Rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`),
		formatTime(now), conversationID)
	if err != nil {
		return nil, fmt.Errorf("updating conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, ErrNotFound)
	}

	var sender userRow
	if err := tx.GetContext(ctx, &sender, s.db.Rebind(`SELECT `+userColumns+` FROM users WHERE id = ?`), senderID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("sender %d: %w", senderID, ErrNotFound)
		}
		return nil, fmt.Errorf("querying sender: %w", err)
	}

	msg := &Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      now,
	}
	query := s.db.Rebind(`INSERT INTO messages (conversation_id, sender_id, content, created_at)
		VALUES (?, ?, ?, ?) RETURNING id`)
	if err := tx.QueryRowxContext(ctx, query, conversationID, senderID, content, formatTime(now)).Scan(&msg.ID); err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	msg.Sender, err = sender.toUser()
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// GetMessage retrieves a message with its sender by ID
func (s *SQLStore) GetMessage(ctx context.Context, id int64) (*Message, error) {
	var row messageRow
	if err := s.db.GetContext(ctx, &row, s.db.Rebind(messageSelect+` WHERE m.id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return row.toMessage()
}

// ListMessages returns messages of a conversation in creation order.
// A limit <= 0 returns the whole log; a positive limit returns the most
// recent messages, still in ascending order.
func (s *SQLStore) ListMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	var (
		query string
		args  []any
	)
	if limit > 0 {
		query = `SELECT * FROM (` + messageSelect + `
			WHERE m.conversation_id = ? ORDER BY m.created_at DESC, m.id DESC LIMIT ?
		) recent ORDER BY created_at ASC, id ASC`
		args = []any{conversationID, limit}
	} else {
		query = messageSelect + ` WHERE m.conversation_id = ? ORDER BY m.created_at ASC, m.id ASC`
		args = []any{conversationID}
	}

	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	msgs := make([]*Message, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toMessage()
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Ping checks database connectivity
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

// isUniqueViolation checks if an error is a unique constraint violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if an error is a foreign key violation
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23503"
	}
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
