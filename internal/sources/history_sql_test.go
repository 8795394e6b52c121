package sources

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func setupMockHistory(t *testing.T, cfg SQLHistoryConfig) (sqlmock.Sqlmock, *SQLHistorySource) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	src, err := NewSQLHistorySource(db, cfg)
	if err != nil {
		t.Fatalf("NewSQLHistorySource() error = %v", err)
	}
	return mock, src
}

func TestSQLHistorySource_Fetch(t *testing.T) {
	mock, src := setupMockHistory(t, DefaultSQLHistoryConfig())

	rows := sqlmock.NewRows([]string{"role", "content"}).
		AddRow("user", "u1").
		AddRow("assistant", "a1").
		AddRow("user", "u2").
		AddRow(nil, "dropped").
		AddRow("assistant", "a2")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role, content FROM messages WHERE session_id = $1 ORDER BY created_at ASC")).
		WithArgs("sess-1").
		WillReturnRows(rows)

	rounds, err := src.Fetch(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(rounds) != 2 {
		t.Fatalf("len(rounds) = %d, want 2", len(rounds))
	}
	if rounds[1].Assistant.Content != "a2" {
		t.Errorf("rounds[1].Assistant = %+v", rounds[1].Assistant)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLHistorySource_QueryError(t *testing.T) {
	mock, src := setupMockHistory(t, DefaultSQLHistoryConfig())
	mock.ExpectQuery("SELECT role, content FROM messages").
		WillReturnError(errors.New("connection refused"))

	_, err := src.Fetch(context.Background(), "s")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Fetch() error = %v, want ErrUnavailable", err)
	}
}

func TestSQLHistorySource_RowError(t *testing.T) {
	mock, src := setupMockHistory(t, DefaultSQLHistoryConfig())
	rows := sqlmock.NewRows([]string{"role", "content"}).
		AddRow("user", "u1").
		RowError(0, errors.New("broken row"))
	mock.ExpectQuery("SELECT role, content FROM messages").WillReturnRows(rows)

	_, err := src.Fetch(context.Background(), "s")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Fetch() error = %v, want ErrUnavailable", err)
	}
}

func TestBuildHistoryQuery(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SQLHistoryConfig
		want    string
		wantErr bool
	}{
		{
			name: "defaults",
			cfg:  SQLHistoryConfig{},
			want: "SELECT role, content FROM messages WHERE session_id = $1 ORDER BY created_at ASC",
		},
		{
			name: "sqlite placeholder",
			cfg:  SQLHistoryConfig{Driver: "sqlite", Table: "chat.turns", OrderColumn: "seq"},
			want: "SELECT role, content FROM chat.turns WHERE session_id = ? ORDER BY seq ASC",
		},
		{
			name: "limited",
			cfg:  SQLHistoryConfig{MaxMessages: 20},
			want: "SELECT role, content FROM (SELECT role, content, created_at FROM messages WHERE session_id = $1 ORDER BY created_at DESC LIMIT 20) recent ORDER BY created_at ASC",
		},
		{
			name:    "injection rejected",
			cfg:     SQLHistoryConfig{Table: "messages; DROP TABLE x"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildHistoryQuery(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("buildHistoryQuery() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildHistoryQuery() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("buildHistoryQuery() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOpenSQLHistorySource_Validation(t *testing.T) {
	if _, err := OpenSQLHistorySource(context.Background(), SQLHistoryConfig{Driver: "postgres"}); err == nil {
		t.Error("expected error for missing dsn")
	}
	_, err := OpenSQLHistorySource(context.Background(), SQLHistoryConfig{Driver: "mysql", DSN: "x"})
	if err == nil || !strings.Contains(err.Error(), "unsupported driver") {
		t.Errorf("error = %v, want unsupported driver", err)
	}
}

func TestOpenSQLHistorySource_SQLite(t *testing.T) {
	dsn := "file:" + t.TempDir() + "/history.db"
	ctx := context.Background()

	// Seed with a throwaway handle; the source itself never writes.
	seed, err := OpenSQLHistorySource(ctx, SQLHistoryConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("OpenSQLHistorySource() error = %v", err)
	}
	for _, stmt := range []string{
		"CREATE TABLE messages (session_id TEXT, role TEXT, content TEXT, created_at INTEGER)",
		"INSERT INTO messages VALUES ('s1','user','hello',1),('s1','assistant','hi',2),('s2','user','other',3)",
	} {
		if _, err := seed.db.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}
	defer seed.Close()

	src, err := OpenSQLHistorySource(ctx, SQLHistoryConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("OpenSQLHistorySource() error = %v", err)
	}
	defer src.Close()

	rounds, err := src.Fetch(ctx, "s1")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(rounds) != 1 || rounds[0].User.Content != "hello" || rounds[0].Assistant.Content != "hi" {
		t.Errorf("rounds = %+v", rounds)
	}
}
