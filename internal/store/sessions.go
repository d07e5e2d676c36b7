package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// StartSession inserts an ACTIVE session row, assigns its recording path
// deterministically from the new session id, and records the paired
// session_start and vault_access audit events in the same transaction.
// The vault path is recorded in audit metadata; the secret value never is.
func (s *Store) StartSession(jitRequestID, actorID, credentialID int64, vaultPath, ip string) (*Session, error) {
	now := s.now()
	sess := &Session{
		JitRequestID: jitRequestID,
		StartedAt:    now,
		Status:       SessionActive,
	}
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO sessions (jit_request_id, started_at, status) VALUES (?, ?, ?)`,
			jitRequestID, now, SessionActive,
		)
		if err != nil {
			return err
		}
		sess.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		sess.RecordingPath = fmt.Sprintf("recordings/session-%d.log", sess.ID)
		if _, err := tx.Exec(`UPDATE sessions SET recording_path = ? WHERE id = ?`, sess.RecordingPath, sess.ID); err != nil {
			return err
		}
		if err := s.insertAudit(tx, AuditEvent{
			ActorID:      &actorID,
			Action:       "session_start",
			ResourceType: "session",
			ResourceID:   fmt.Sprintf("%d", sess.ID),
			TS:           now,
			IP:           ip,
		}); err != nil {
			return err
		}
		return s.insertAudit(tx, AuditEvent{
			ActorID:      &actorID,
			Action:       "vault_access",
			ResourceType: "credential",
			ResourceID:   fmt.Sprintf("%d", credentialID),
			TS:           now,
			IP:           ip,
			Metadata:     fmt.Sprintf(`{"vault_path":%q}`, vaultPath),
		})
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// SessionByID looks a session up by id. Returns ErrNotFound if absent.
func (s *Store) SessionByID(id int64) (*Session, error) {
	var sess Session
	var endedAt sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, jit_request_id, started_at, ended_at, recording_path, status FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.JitRequestID, &sess.StartedAt, &endedAt, &sess.RecordingPath, &sess.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		sess.EndedAt = &t
	}
	return &sess, nil
}

// ListSessions returns sessions newest first. When all is false the list is
// restricted to sessions whose owning request was created by userID.
func (s *Store) ListSessions(userID int64, all bool) ([]Session, error) {
	query := `SELECT s.id, s.jit_request_id, s.started_at, s.ended_at, s.recording_path, s.status
		FROM sessions s ORDER BY s.started_at DESC, s.id DESC`
	args := []any{}
	if !all {
		query = `SELECT s.id, s.jit_request_id, s.started_at, s.ended_at, s.recording_path, s.status
			FROM sessions s JOIN jit_requests j ON j.id = s.jit_request_id
			WHERE j.user_id = ? ORDER BY s.started_at DESC, s.id DESC`
		args = append(args, userID)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		var sess Session
		var endedAt sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.JitRequestID, &sess.StartedAt, &endedAt, &sess.RecordingPath, &sess.Status); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			t := endedAt.Time
			sess.EndedAt = &t
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// EndSession transitions an ACTIVE session to ENDED and records the audit
// event atomically. Ending an already-ENDED session is a no-op: the original
// ended_at stands and no duplicate audit record is written. Returns whether
// the transition happened.
func (s *Store) EndSession(id int64, ip string) (bool, error) {
	changed := false
	err := s.withTx(func(tx *sql.Tx) error {
		now := s.now()
		res, err := tx.Exec(
			`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ? AND status = ?`,
			SessionEnded, now, id, SessionActive,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			} else if err != nil {
				return err
			}
			return nil
		}
		changed = true
		return s.insertAudit(tx, AuditEvent{
			Action:       "session_end",
			ResourceType: "session",
			ResourceID:   fmt.Sprintf("%d", id),
			TS:           now,
			IP:           ip,
		})
	})
	return changed, err
}
