package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"kioskprint/internal/model"
)

// Store is the local journal of finished print sessions and supply readings.
type Store struct {
	db          *sql.DB
	MaxSessions int
}

type SessionRecord struct {
	ID               string
	Printer          string
	JobID            int
	JobName          string
	Paper            string
	Pages            int
	Copies           int
	ImagesPerPage    int
	Outcome          string
	State            string
	Reason           string
	EstimatedSeconds int
	Elapsed          time.Duration
	SubmittedAt      time.Time
	FinishedAt       time.Time
}

// SessionFromResult builds the journal row for a finished session.
func SessionFromResult(r model.Result, paper string, copies, imagesPerPage int, finished time.Time) SessionRecord {
	return SessionRecord{
		ID:               r.Session.ID,
		Printer:          r.Session.PrinterName,
		JobID:            r.Session.TrackedJobID,
		JobName:          r.Session.TrackedJobName,
		Paper:            paper,
		Pages:            r.Session.TotalPagesNeeded,
		Copies:           copies,
		ImagesPerPage:    imagesPerPage,
		Outcome:          string(r.Outcome),
		State:            r.State,
		Reason:           r.Reason,
		EstimatedSeconds: r.Session.EstimatedDurationSeconds,
		Elapsed:          r.Elapsed,
		SubmittedAt:      r.Session.SubmittedAt,
		FinishedAt:       finished,
	}
}

type OutcomeCount struct {
	Outcome string
	Count   int
}

func Open(ctx context.Context, dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, MaxSessions: 5000}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) WithTx(ctx context.Context, readOnly bool, fn func(tx *sql.Tx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store not initialized")
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// InsertSession records a finished session and trims the journal to MaxSessions.
func (s *Store) InsertSession(ctx context.Context, tx *sql.Tx, rec SessionRecord) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("session id required")
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	var submitted any
	if !rec.SubmittedAt.IsZero() {
		submitted = rec.SubmittedAt.UTC()
	}
	_, err := tx.ExecContext(ctx, `
        INSERT INTO print_sessions (id, printer, job_id, job_name, paper, pages, copies, images_per_page,
            outcome, state, reason, estimated_seconds, elapsed_ms, submitted_at, finished_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, rec.ID, rec.Printer, rec.JobID, rec.JobName, rec.Paper, rec.Pages, rec.Copies, rec.ImagesPerPage,
		rec.Outcome, rec.State, rec.Reason, rec.EstimatedSeconds, rec.Elapsed.Milliseconds(), submitted, rec.FinishedAt.UTC())
	if err != nil {
		return err
	}
	if s.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `
            DELETE FROM print_sessions WHERE id IN (
                SELECT id FROM print_sessions ORDER BY finished_at DESC LIMIT -1 OFFSET ?
            )
        `, s.MaxSessions)
	}
	return err
}

// ListSessions returns the newest sessions first. An empty printer lists all.
func (s *Store) ListSessions(ctx context.Context, tx *sql.Tx, printer string, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
        SELECT id, printer, job_id, job_name, paper, pages, copies, images_per_page, outcome, state, reason,
            estimated_seconds, elapsed_ms, submitted_at, finished_at
        FROM print_sessions`
	args := []any{}
	if printer != "" {
		query += ` WHERE printer = ?`
		args = append(args, printer)
	}
	query += ` ORDER BY finished_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SessionRecord{}
	for rows.Next() {
		var rec SessionRecord
		var elapsed int64
		var submitted sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Printer, &rec.JobID, &rec.JobName, &rec.Paper, &rec.Pages, &rec.Copies,
			&rec.ImagesPerPage, &rec.Outcome, &rec.State, &rec.Reason, &rec.EstimatedSeconds, &elapsed,
			&submitted, &rec.FinishedAt); err != nil {
			return nil, err
		}
		rec.Elapsed = time.Duration(elapsed) * time.Millisecond
		if submitted.Valid {
			rec.SubmittedAt = submitted.Time
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountOutcomes tallies the journal per outcome since the given time.
func (s *Store) CountOutcomes(ctx context.Context, tx *sql.Tx, printer string, since time.Time) ([]OutcomeCount, error) {
	rows, err := tx.QueryContext(ctx, `
        SELECT outcome, COUNT(*)
        FROM print_sessions
        WHERE (? = '' OR printer = ?) AND finished_at >= ?
        GROUP BY outcome
        ORDER BY outcome
    `, printer, printer, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []OutcomeCount{}
	for rows.Next() {
		var c OutcomeCount
		if err := rows.Scan(&c.Outcome, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) InsertSupplySnapshot(ctx context.Context, tx *sql.Tx, printer string, info model.RollCapacityInfo) error {
	checked := info.CheckedAt
	if checked.IsZero() {
		checked = time.Now().UTC()
	}
	raw := ""
	if len(info.Details) > 0 {
		if b, err := json.Marshal(info.Details); err == nil {
			raw = string(b)
		}
	}
	_, err := tx.ExecContext(ctx, `
        INSERT INTO supply_snapshots (printer, source, status, remaining_percent, remaining_prints, max_capacity, details, checked_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, printer, info.Source, info.Status, nullInt(info.RemainingPercentage), nullInt(info.RemainingPrints),
		nullInt(info.MaxCapacity), raw, checked.UTC())
	return err
}

// LatestSupplySnapshot returns the newest reading for printer.
func (s *Store) LatestSupplySnapshot(ctx context.Context, tx *sql.Tx, printer string) (model.RollCapacityInfo, bool, error) {
	var info model.RollCapacityInfo
	var pct, prints, capacity sql.NullInt64
	var details string
	err := tx.QueryRowContext(ctx, `
        SELECT source, status, remaining_percent, remaining_prints, max_capacity, details, checked_at
        FROM supply_snapshots
        WHERE printer = ?
        ORDER BY checked_at DESC, id DESC
        LIMIT 1
    `, printer).Scan(&info.Source, &info.Status, &pct, &prints, &capacity, &details, &info.CheckedAt)
	if err == sql.ErrNoRows {
		return model.RollCapacityInfo{}, false, nil
	}
	if err != nil {
		return model.RollCapacityInfo{}, false, err
	}
	info.RemainingPercentage = intFromNull(pct)
	info.RemainingPrints = intFromNull(prints)
	info.MaxCapacity = intFromNull(capacity)
	info.IsAvailable = info.RemainingPercentage != nil || info.RemainingPrints != nil
	info.Details = map[string]string{}
	if strings.TrimSpace(details) != "" {
		_ = json.Unmarshal([]byte(details), &info.Details)
	}
	return info, true, nil
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func intFromNull(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
