package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/docsync/internal/ir"
)

// ErrNotFound is returned when a document is not stored.
var ErrNotFound = errors.New("not found")

// Record is one stored document.
type Record struct {
	Key         ir.TargetKey `json:"key"`
	Fields      ir.Fields    `json:"fields"`
	Body        []byte       `json:"body,omitempty"`
	ContentHash string       `json:"content_hash,omitempty"`
	SessionID   string       `json:"session_id"`
}

// InstanceWatermark is the watermark recorded for one source instance.
type InstanceWatermark struct {
	InstanceID string    `json:"instance_id"`
	Watermark  time.Time `json:"watermark"`
	SessionID  string    `json:"session_id"`
}

// SessionRecord is one journaled session with its disposition counts.
type SessionRecord struct {
	ID         string    `json:"id"`
	ReplicaID  string    `json:"replica_id"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitzero"`
	Status     string    `json:"status"`
	Filter     string    `json:"filter,omitempty"`
	Error      string    `json:"error,omitempty"`
	Matched    int       `json:"matched"`
	NonMatched int       `json:"non_matched"`
	Deleted    int       `json:"deleted"`
}

// Disposition is one journaled apply call.
type Disposition struct {
	Seq       int64  `json:"seq"`
	SessionID string `json:"session_id"`
	Kind      string `json:"kind"`
	Identity  string `json:"identity,omitempty"`
	Sequence  uint64 `json:"sequence,omitempty"`
	Applied   bool   `json:"applied"`
}

// Status summarizes what the store holds.
type Status struct {
	ReplicaID  string              `json:"replica_id,omitempty"`
	Filter     string              `json:"filter,omitempty"`
	Documents  int                 `json:"documents"`
	Watermarks []InstanceWatermark `json:"watermarks"`
}

// Status returns the committed sync state, the document count and every
// instance watermark.
func (s *Store) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.db.QueryRowContext(ctx,
		`SELECT replica_id, filter FROM sync_state WHERE id = 1`,
	).Scan(&st.ReplicaID, &st.Filter)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Status{}, fmt.Errorf("query sync state: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&st.Documents); err != nil {
		return Status{}, fmt.Errorf("count documents: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, watermark, session_id
		FROM watermarks
		ORDER BY instance_id ASC
	`)
	if err != nil {
		return Status{}, fmt.Errorf("query watermarks: %w", err)
	}
	defer rows.Close()

	st.Watermarks = []InstanceWatermark{}
	for rows.Next() {
		var (
			w  InstanceWatermark
			ns int64
		)
		if err := rows.Scan(&w.InstanceID, &ns, &w.SessionID); err != nil {
			return Status{}, fmt.Errorf("scan watermark: %w", err)
		}
		w.Watermark = fromUnixNanos(ns)
		st.Watermarks = append(st.Watermarks, w)
	}
	if err := rows.Err(); err != nil {
		return Status{}, fmt.Errorf("iterate watermarks: %w", err)
	}
	return st, nil
}

// Documents returns every stored document ordered by identity.
//
// Returns an empty slice (not nil) if the store holds no documents.
func (s *Store) Documents(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, identity, sequence, sequence_time, fields, body, content_hash, session_id
		FROM documents
		ORDER BY identity ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return records, nil
}

// Document returns the stored document with the given identity.
// Returns ErrNotFound if it is not stored.
func (s *Store) Document(ctx context.Context, identity string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT local_id, identity, sequence, sequence_time, fields, body, content_hash, session_id
		FROM documents
		WHERE identity = ?
	`, identity)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("document %s: %w", identity, ErrNotFound)
	}
	return rec, err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec        Record
		seq        int64
		seqTime    int64
		fieldsJSON string
	)
	err := sc.Scan(&rec.Key.LocalID, &rec.Key.Identity, &seq, &seqTime,
		&fieldsJSON, &rec.Body, &rec.ContentHash, &rec.SessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, err
	}
	if err != nil {
		return Record{}, fmt.Errorf("scan document: %w", err)
	}
	rec.Key.Sequence = uint64(seq)
	rec.Key.SequenceTime = fromUnixNanos(seqTime)

	rec.Fields, err = unmarshalFields(fieldsJSON)
	if err != nil {
		return Record{}, fmt.Errorf("document %s: %w", rec.Key.Identity, err)
	}
	return rec, nil
}

// Sessions returns the most recent sessions, newest first. A limit of zero
// or less returns all of them.
func (s *Store) Sessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.replica_id, s.started_at, s.ended_at, s.status, s.filter, s.error,
			(SELECT COUNT(*) FROM dispositions d WHERE d.session_id = s.id AND d.kind = 'matching'),
			(SELECT COUNT(*) FROM dispositions d WHERE d.session_id = s.id AND d.kind = 'non_matching'),
			(SELECT COUNT(*) FROM dispositions d WHERE d.session_id = s.id AND d.kind = 'deleted')
		FROM sessions s
		ORDER BY s.started_at DESC, s.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := []SessionRecord{}
	for rows.Next() {
		var (
			rec     SessionRecord
			started int64
			ended   sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.ReplicaID, &started, &ended, &rec.Status,
			&rec.Filter, &rec.Error, &rec.Matched, &rec.NonMatched, &rec.Deleted); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		rec.StartedAt = fromUnixNanos(started)
		if ended.Valid {
			rec.EndedAt = fromUnixNanos(ended.Int64)
		}
		sessions = append(sessions, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Dispositions returns the journal of one session in dispatch order.
//
// Returns an empty slice (not nil) if the session journaled nothing.
func (s *Store) Dispositions(ctx context.Context, sessionID string) ([]Disposition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, session_id, kind, identity, sequence, applied
		FROM dispositions
		WHERE session_id = ?
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query dispositions: %w", err)
	}
	defer rows.Close()

	out := []Disposition{}
	for rows.Next() {
		var (
			d   Disposition
			seq int64
		)
		if err := rows.Scan(&d.Seq, &d.SessionID, &d.Kind, &d.Identity, &seq, &d.Applied); err != nil {
			return nil, fmt.Errorf("scan disposition: %w", err)
		}
		d.Sequence = uint64(seq)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispositions: %w", err)
	}
	return out, nil
}
