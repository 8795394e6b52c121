package sources

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/haasonsaas/promptengine/pkg/models"
)

// SQLHistoryConfig describes where conversation messages live in a
// relational store.
type SQLHistoryConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string
	DSN    string

	Table         string
	SessionColumn string
	RoleColumn    string
	ContentColumn string
	OrderColumn   string

	// MaxMessages limits how many of the newest messages are read.
	// Zero reads the whole session.
	MaxMessages int
}

// DefaultSQLHistoryConfig returns the column layout used when none is set.
func DefaultSQLHistoryConfig() SQLHistoryConfig {
	return SQLHistoryConfig{
		Driver:        "postgres",
		Table:         "messages",
		SessionColumn: "session_id",
		RoleColumn:    "role",
		ContentColumn: "content",
		OrderColumn:   "created_at",
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLHistorySource reads history from a database with a read-only query.
type SQLHistorySource struct {
	db    *sql.DB
	query string
}

// OpenSQLHistorySource opens the database and verifies connectivity.
func OpenSQLHistorySource(ctx context.Context, cfg SQLHistoryConfig) (*SQLHistorySource, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	switch cfg.Driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	src, err := NewSQLHistorySource(db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return src, nil
}

// NewSQLHistorySource wraps an existing handle.
func NewSQLHistorySource(db *sql.DB, cfg SQLHistoryConfig) (*SQLHistorySource, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	query, err := buildHistoryQuery(cfg)
	if err != nil {
		return nil, err
	}
	return &SQLHistorySource{db: db, query: query}, nil
}

func buildHistoryQuery(cfg SQLHistoryConfig) (string, error) {
	def := DefaultSQLHistoryConfig()
	table := valueOr(cfg.Table, def.Table)
	sessionCol := valueOr(cfg.SessionColumn, def.SessionColumn)
	roleCol := valueOr(cfg.RoleColumn, def.RoleColumn)
	contentCol := valueOr(cfg.ContentColumn, def.ContentColumn)
	orderCol := valueOr(cfg.OrderColumn, def.OrderColumn)

	for _, ident := range []string{table, sessionCol, roleCol, contentCol, orderCol} {
		if !identifierPattern.MatchString(ident) {
			return "", fmt.Errorf("invalid sql identifier %q", ident)
		}
	}

	placeholder := "$1"
	if cfg.Driver == "sqlite" {
		placeholder = "?"
	}

	if cfg.MaxMessages > 0 {
		// Newest N, returned oldest first.
		return fmt.Sprintf(
			"SELECT %s, %s FROM (SELECT %s, %s, %s FROM %s WHERE %s = %s ORDER BY %s DESC LIMIT %d) recent ORDER BY %s ASC",
			roleCol, contentCol,
			roleCol, contentCol, orderCol, table, sessionCol, placeholder, orderCol, cfg.MaxMessages,
			orderCol,
		), nil
	}
	return fmt.Sprintf(
		"SELECT %s, %s FROM %s WHERE %s = %s ORDER BY %s ASC",
		roleCol, contentCol, table, sessionCol, placeholder, orderCol,
	), nil
}

// Fetch returns the session's rounds, oldest first.
func (s *SQLHistorySource) Fetch(ctx context.Context, sessionID string) ([]models.ConversationRound, error) {
	rows, err := s.db.QueryContext(ctx, s.query, sessionID)
	if err != nil {
		return nil, unavailable(SourceHistory, "query", err)
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var role, content sql.NullString
		if err := rows.Scan(&role, &content); err != nil {
			return nil, unavailable(SourceHistory, "scan", err)
		}
		if !role.Valid || role.String == "" {
			continue
		}
		msgs = append(msgs, models.Message{
			Role:    models.Role(strings.ToLower(role.String)),
			Content: content.String,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(SourceHistory, "rows", err)
	}
	return models.GroupRounds(msgs), nil
}

// Close releases database resources.
func (s *SQLHistorySource) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
