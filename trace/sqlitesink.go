package trace

import (
	"database/sql"
	"fmt"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"

	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// SQLiteSink stores events in the trace table of a SQLite database.
type SQLiteSink struct {
	db        *sql.DB
	statement *sql.Stmt

	path      string
	pending   []Event
	batchSize int
}

// NewSQLiteSink creates a sink writing to path + ".sqlite3". An empty path
// picks a unique name.
func NewSQLiteSink(path string) *SQLiteSink {
	return &SQLiteSink{
		path:      path,
		batchSize: 10000,
	}
}

// Path returns the name of the database file.
func (s *SQLiteSink) Path() string {
	return s.path + ".sqlite3"
}

// Init opens the database and creates the table.
func (s *SQLiteSink) Init() error {
	if s.path == "" {
		s.path = "axisim_trace_" + xid.New().String()
	}

	db, err := sql.Open("sqlite3", s.Path())
	if err != nil {
		return fmt.Errorf("failed to open trace database: %w", err)
	}

	s.db = db

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS trace (
		time REAL,
		source TEXT,
		action TEXT,
		detail TEXT
	)`)
	if err != nil {
		return fmt.Errorf("failed to create trace table: %w", err)
	}

	s.statement, err = db.Prepare(
		"INSERT INTO trace (time, source, action, detail) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare trace statement: %w", err)
	}

	atexit.Register(func() {
		_ = s.Close()
	})

	return nil
}

// Write buffers an event.
func (s *SQLiteSink) Write(e Event) {
	s.pending = append(s.pending, e)
	if len(s.pending) >= s.batchSize {
		_ = s.Flush()
	}
}

// Flush inserts the buffered events in one database transaction.
func (s *SQLiteSink) Flush() error {
	if s.db == nil || len(s.pending) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin trace transaction: %w", err)
	}

	stmt := tx.Stmt(s.statement)
	for _, e := range s.pending {
		_, err := stmt.Exec(float64(e.Time), e.Source, e.Action, e.Detail)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to insert trace event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trace events: %w", err)
	}

	s.pending = nil

	return nil
}

// Count returns the number of events stored in the database.
func (s *SQLiteSink) Count() (int, error) {
	var n int

	err := s.db.QueryRow("SELECT COUNT(*) FROM trace").Scan(&n)

	return n, err
}

// Close flushes and closes the database. Closing twice is a no-op.
func (s *SQLiteSink) Close() error {
	if s.db == nil {
		return nil
	}

	flushErr := s.Flush()
	_ = s.statement.Close()
	closeErr := s.db.Close()
	s.db = nil

	if flushErr != nil {
		return flushErr
	}

	return closeErr
}
