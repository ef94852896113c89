package catalog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped when schema.sql changes incompatibly.
const schemaVersion = 1

// Date and time layouts stored in the info table.
const (
	DateLayout = "02-01-2006"
	TimeLayout = "15:04:05"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond

	maxTranscriptBytes = 64 << 10
)

var (
	// ErrSchemaMismatch indicates an existing database from another schema version.
	ErrSchemaMismatch = errors.New("catalog schema version mismatch")
	// ErrNotFound is returned when no entry matches.
	ErrNotFound = errors.New("catalog entry not found")
)

// Entry is one row of the info table.
type Entry struct {
	ID         int64
	Date       string
	Time       string
	Freq       string
	Agency     string
	Transcript string
	AudioPath  string
	PostID     string
	PostURL    string
}

// Store wraps the catalog database.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the catalog at path.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer; the python publisher may read concurrently.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database. It is safe on a nil Store.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: %s has version %d, expected %d", ErrSchemaMismatch, s.path, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// RecordAudio inserts a row for the clip at path, dated by the file's
// status-change time. Recording the same path twice returns the first row.
func (s *Store) RecordAudio(ctx context.Context, path, freq string) (*Entry, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve audio path: %w", err)
	}
	changed, err := changeTime(abs)
	if err != nil {
		return nil, err
	}
	entry := &Entry{
		Date:      changed.Format(DateLayout),
		Time:      changed.Format(TimeLayout),
		Freq:      freq,
		AudioPath: abs,
	}

	err = retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO info (date, time, freq, audioPath) VALUES (?, ?, ?, ?)
             ON CONFLICT(audioPath) DO NOTHING`,
			entry.Date, entry.Time, nullable(entry.Freq), entry.AudioPath,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		entry.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert audio entry: %w", err)
	}
	if entry.ID == 0 {
		return s.ByAudioPath(ctx, abs)
	}
	return entry, nil
}

// AttachTranscript stores the text of a transcript on the row whose audio
// file shares its base name (clip.mp3 -> clip.txt).
func (s *Store) AttachTranscript(ctx context.Context, transcriptPath string) (*Entry, error) {
	text, err := readTranscript(transcriptPath)
	if err != nil {
		return nil, err
	}
	stem := strings.TrimSuffix(filepath.Base(transcriptPath), filepath.Ext(transcriptPath))

	var id int64
	err = retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`SELECT id FROM info WHERE audioPath LIKE ? ESCAPE '\' ORDER BY id DESC LIMIT 1`,
			"%/"+escapeLike(stem)+".%",
		).Scan(&id)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no audio for transcript %s", ErrNotFound, filepath.Base(transcriptPath))
	}
	if err != nil {
		return nil, fmt.Errorf("find audio for transcript: %w", err)
	}

	if err := retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE info SET transcript = ? WHERE id = ?`, text, id)
		return err
	}); err != nil {
		return nil, fmt.Errorf("update transcript: %w", err)
	}
	return s.byID(ctx, id)
}

// ByAudioPath returns the row for an audio file.
func (s *Store) ByAudioPath(ctx context.Context, path string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM info WHERE audioPath = ?`, path)
	return scanEntry(row)
}

func (s *Store) byID(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM info WHERE id = ?`, id)
	return scanEntry(row)
}

// Count returns the number of catalogued clips.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM info`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// Recent returns up to limit rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM info ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

const entryColumns = `id, date, time, freq, agency, transcript, audioPath, postID, postURL`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                                          Entry
		freq, agency, transcript, postID, postURL sql.NullString
	)
	err := row.Scan(&e.ID, &e.Date, &e.Time, &freq, &agency, &transcript, &e.AudioPath, &postID, &postURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}
	e.Freq, e.Agency, e.Transcript = freq.String, agency.String, transcript.String
	e.PostID, e.PostURL = postID.String, postURL.String
	return &e, nil
}

func changeTime(path string) (time.Time, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return time.Unix(st.Ctim.Unix()).Local(), nil
}

func readTranscript(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxTranscriptBytes))
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := range busyRetryAttempts {
		lastErr = op()
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			return lastErr
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}
