package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/mathpath/mathexam/internal/apperr"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Store struct {
	db     *sql.DB
	driver string
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New opens the database and applies the schema. For sqlite, dsn is a file
// path or ":memory:"; for postgres it is a connection URL.
func New(driver, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case DriverSQLite, "":
		driver = DriverSQLite
		db, err = sql.Open("sqlite", dsn+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		// One connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	case DriverPostgres:
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'user',
		points INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		grade TEXT NOT NULL DEFAULT '',
		video_url TEXT NOT NULL DEFAULT '',
		cover_url TEXT NOT NULL DEFAULT '',
		sort_order INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS exams (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		grade TEXT NOT NULL,
		region TEXT NOT NULL,
		semester TEXT NOT NULL,
		exam_type TEXT NOT NULL,
		year INTEGER NOT NULL,
		duration INTEGER NOT NULL,
		total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		question_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		source_file TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL REFERENCES exams(id),
		number INTEGER NOT NULL,
		type TEXT NOT NULL,
		content TEXT NOT NULL,
		options TEXT NOT NULL DEFAULT '',
		answer TEXT NOT NULL DEFAULT '',
		score DOUBLE PRECISION NOT NULL DEFAULT 0,
		difficulty TEXT NOT NULL DEFAULT 'medium',
		knowledge_points TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_questions_exam ON questions(exam_id)`,

	`CREATE TABLE IF NOT EXISTS exam_records (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		exam_id TEXT NOT NULL REFERENCES exams(id),
		answers TEXT NOT NULL DEFAULT '{}',
		status TEXT NOT NULL,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		score DOUBLE PRECISION,
		total_score DOUBLE PRECISION NOT NULL DEFAULT 0,
		analysis TEXT NOT NULL DEFAULT '',
		results TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_records_user ON exam_records(user_id, exam_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_records_one_in_progress
		ON exam_records(user_id, exam_id) WHERE status = 'in_progress'`,

	`CREATE TABLE IF NOT EXISTS wrong_questions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		question_id TEXT NOT NULL,
		content TEXT NOT NULL,
		user_answer TEXT NOT NULL DEFAULT '',
		correct_answer TEXT NOT NULL DEFAULT '',
		score DOUBLE PRECISION NOT NULL DEFAULT 0,
		source TEXT NOT NULL DEFAULT '',
		knowledge_points TEXT NOT NULL DEFAULT '[]',
		note TEXT NOT NULL DEFAULT '',
		mastered BOOLEAN NOT NULL DEFAULT FALSE,
		practice_count INTEGER NOT NULL DEFAULT 1,
		last_practiced_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, question_id)
	)`,

	`CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		course_id TEXT NOT NULL REFERENCES courses(id),
		content TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (user_id, course_id)
	)`,

	`CREATE TABLE IF NOT EXISTS paper_imports (
		content_hash TEXT PRIMARY KEY,
		exam_id TEXT NOT NULL REFERENCES exams(id),
		created_at TIMESTAMP NOT NULL
	)`,
}

func (s *Store) migrate() error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// q rewrites "?" placeholders into "$n" for postgres.
func (s *Store) q(query string) string {
	return rebind(s.driver, query)
}

func rebind(driver, query string) string {
	if driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// isUniqueViolation recognizes unique constraint failures from both drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// notFound converts sql.ErrNoRows into apperr.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrNotFound
	}
	return err
}

// affectedOrNotFound returns ErrNotFound when an update touched no rows.
func affectedOrNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// decodeJSON leaves v untouched for empty columns.
func decodeJSON(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func now() time.Time {
	return time.Now().UTC()
}
