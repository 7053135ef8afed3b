package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/docsync/internal/ir"
)

// ErrSessionClosed is returned when a session is used after it committed or
// aborted, or was never opened by this store.
var ErrSessionClosed = errors.New("session is closed")

// Session statuses as stored in the sessions table.
const (
	StatusRunning   = "running"
	StatusCommitted = "committed"
	StatusAborted   = "aborted"
)

// Disposition kinds as stored in the dispositions journal.
const (
	KindMatching    = "matching"
	KindNonMatching = "non_matching"
	KindDeleted     = "deleted"
	KindClear       = "clear"
)

type session struct {
	id        string
	replicaID string
}

func (s *session) ID() string { return s.id }

// lookup returns the open session behind s.
func (s *Store) lookup(sess ir.Session) (*session, error) {
	if sess == nil {
		return nil, ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	open, ok := s.open[sess.ID()]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", sess.ID(), ErrSessionClosed)
	}
	return open, nil
}

// release removes the session from the open set. It reports false if the
// session was already closed.
func (s *Store) release(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[id]; !ok {
		return false
	}
	delete(s.open, id)
	return true
}

// SyncState returns the replica id and filter of the last committed pass and
// the watermark recorded for instanceID. A store that never committed a pass
// returns the zero state.
func (s *Store) SyncState(ctx context.Context, instanceID string) (ir.SyncState, error) {
	var st ir.SyncState
	err := s.db.QueryRowContext(ctx,
		`SELECT replica_id, filter FROM sync_state WHERE id = 1`,
	).Scan(&st.ReplicaID, &st.Filter)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.SyncState{}, nil
	}
	if err != nil {
		return ir.SyncState{}, fmt.Errorf("read sync state: %w", err)
	}

	var wm int64
	err = s.db.QueryRowContext(ctx,
		`SELECT watermark FROM watermarks WHERE instance_id = ?`, instanceID,
	).Scan(&wm)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ir.SyncState{}, fmt.Errorf("read watermark for %s: %w", instanceID, err)
	default:
		st.Watermark = fromUnixNanos(wm)
	}
	return st, nil
}

// StartingSync opens a session and journals it as running.
func (s *Store) StartingSync(ctx context.Context, replicaID string) (ir.Session, error) {
	sess := &session{id: s.ids.Generate(), replicaID: replicaID}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, replica_id, started_at, status)
		VALUES (?, ?, ?, ?)
	`, sess.id, replicaID, unixNanos(s.now()), StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	s.mu.Lock()
	s.open[sess.id] = sess
	s.mu.Unlock()
	return sess, nil
}

// EndingSync commits the session. The sync state row, the instance
// watermark and the session status are written in one transaction.
func (s *Store) EndingSync(ctx context.Context, sess ir.Session, filter string, source ir.SourceIdentity, watermark time.Time) error {
	open, err := s.lookup(sess)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("end session %s: begin: %w", open.id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sync_state (id, replica_id, filter) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			replica_id = excluded.replica_id,
			filter = excluded.filter
	`, source.ReplicaID, filter); err != nil {
		return fmt.Errorf("end session %s: write sync state: %w", open.id, err)
	}

	if watermark.IsZero() {
		_, err = tx.ExecContext(ctx, `DELETE FROM watermarks WHERE instance_id = ?`, source.InstanceID)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO watermarks (instance_id, watermark, session_id) VALUES (?, ?, ?)
			ON CONFLICT(instance_id) DO UPDATE SET
				watermark = excluded.watermark,
				session_id = excluded.session_id
		`, source.InstanceID, unixNanos(watermark), open.id)
	}
	if err != nil {
		return fmt.Errorf("end session %s: write watermark: %w", open.id, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = ?, filter = ? WHERE id = ?
	`, StatusCommitted, unixNanos(s.now()), filter, open.id); err != nil {
		return fmt.Errorf("end session %s: update status: %w", open.id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("end session %s: commit: %w", open.id, err)
	}
	s.release(open.id)
	return nil
}

// Abort closes the session as aborted and records the cause. Writes already
// applied by the session are kept; the next pass reconciles them.
func (s *Store) Abort(ctx context.Context, sess ir.Session, cause error) error {
	open, err := s.lookup(sess)
	if err != nil {
		return err
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = ?, error = ? WHERE id = ?
	`, StatusAborted, unixNanos(s.now()), msg, open.id); err != nil {
		return fmt.Errorf("abort session %s: %w", open.id, err)
	}
	if !s.release(open.id) {
		return fmt.Errorf("session %s: %w", open.id, ErrSessionClosed)
	}
	return nil
}

// Clear removes every document and every watermark.
func (s *Store) Clear(ctx context.Context, sess ir.Session) error {
	open, err := s.lookup(sess)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("clear: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents`)
	if err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	removed, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM watermarks`); err != nil {
		return fmt.Errorf("clear watermarks: %w", err)
	}
	if err := journal(ctx, tx, open.id, KindClear, ir.VersionKey{}, removed > 0); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("clear: commit: %w", err)
	}
	return nil
}

// ScanAll returns every stored version key ordered by identity.
func (s *Store) ScanAll(ctx context.Context) ([]ir.TargetKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT local_id, identity, sequence, sequence_time
		FROM documents
		ORDER BY identity ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("scan documents: %w", err)
	}
	defer rows.Close()

	keys := []ir.TargetKey{}
	for rows.Next() {
		var (
			k       ir.TargetKey
			seq     int64
			seqTime int64
		)
		if err := rows.Scan(&k.LocalID, &k.Identity, &seq, &seqTime); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		k.Sequence = uint64(seq)
		k.SequenceTime = fromUnixNanos(seqTime)
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return keys, nil
}

// ApplyMatching inserts or updates the document. A row already holding the
// same revision and content hash is left untouched.
func (s *Store) ApplyMatching(ctx context.Context, sess ir.Session, key ir.VersionKey, content *ir.Content) error {
	open, err := s.lookup(sess)
	if err != nil {
		return err
	}

	var (
		fields = ir.Fields{}
		body   []byte
		hash   string
	)
	if content != nil {
		if content.Fields != nil {
			fields = content.Fields
		}
		body = content.Body
		if hash, err = ir.ContentHash(content); err != nil {
			return fmt.Errorf("apply matching %s: %w", key.Identity, err)
		}
	}
	fieldsJSON, err := marshalFields(fields)
	if err != nil {
		return fmt.Errorf("apply matching %s: %w", key.Identity, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply matching %s: begin: %w", key.Identity, err)
	}
	defer tx.Rollback()

	var (
		curSeq     int64
		curSeqTime int64
		curHash    string
	)
	err = tx.QueryRowContext(ctx, `
		SELECT sequence, sequence_time, content_hash FROM documents WHERE identity = ?
	`, key.Identity).Scan(&curSeq, &curSeqTime, &curHash)

	applied := true
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (identity, sequence, sequence_time, fields, body, content_hash, session_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, key.Identity, int64(key.Sequence), unixNanos(key.SequenceTime), fieldsJSON, body, hash, open.id)
	case err != nil:
	case uint64(curSeq) == key.Sequence && curSeqTime == unixNanos(key.SequenceTime) && curHash == hash:
		applied = false
	default:
		_, err = tx.ExecContext(ctx, `
			UPDATE documents
			SET sequence = ?, sequence_time = ?, fields = ?, body = ?, content_hash = ?, session_id = ?
			WHERE identity = ?
		`, int64(key.Sequence), unixNanos(key.SequenceTime), fieldsJSON, body, hash, open.id, key.Identity)
	}
	if err != nil {
		return fmt.Errorf("apply matching %s: %w", key.Identity, err)
	}

	if err := journal(ctx, tx, open.id, KindMatching, key, applied); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply matching %s: commit: %w", key.Identity, err)
	}
	return nil
}

// ApplyNonMatching removes a document that left the filter.
func (s *Store) ApplyNonMatching(ctx context.Context, sess ir.Session, key ir.VersionKey) error {
	return s.remove(ctx, sess, key, KindNonMatching)
}

// ApplyDeleted removes a document deleted at the source.
func (s *Store) ApplyDeleted(ctx context.Context, sess ir.Session, key ir.VersionKey) error {
	return s.remove(ctx, sess, key, KindDeleted)
}

func (s *Store) remove(ctx context.Context, sess ir.Session, key ir.VersionKey, kind string) error {
	open, err := s.lookup(sess)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("apply %s %s: begin: %w", kind, key.Identity, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE identity = ?`, key.Identity)
	if err != nil {
		return fmt.Errorf("apply %s %s: %w", kind, key.Identity, err)
	}
	n, _ := res.RowsAffected()

	if err := journal(ctx, tx, open.id, kind, key, n > 0); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("apply %s %s: commit: %w", kind, key.Identity, err)
	}
	return nil
}

// journal appends one disposition row inside tx.
func journal(ctx context.Context, tx *sql.Tx, sessionID, kind string, key ir.VersionKey, applied bool) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO dispositions (session_id, kind, identity, sequence, applied)
		VALUES (?, ?, ?, ?, ?)
	`, sessionID, kind, key.Identity, int64(key.Sequence), applied)
	if err != nil {
		return fmt.Errorf("journal %s %s: %w", kind, key.Identity, err)
	}
	return nil
}

// DataRequirement reports the configured content level.
func (s *Store) DataRequirement() ir.DataRequirement {
	return s.data
}

// Log forwards engine diagnostics to the store's logger.
func (s *Store) Log(level slog.Level, msg string, err error) {
	if err != nil {
		s.logger.Log(context.Background(), level, msg, "error", err)
		return
	}
	s.logger.Log(context.Background(), level, msg)
}
