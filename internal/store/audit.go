package store

import "database/sql"

func (s *Store) insertAudit(tx *sql.Tx, ev AuditEvent) error {
	var actorID any
	if ev.ActorID != nil {
		actorID = *ev.ActorID
	}
	_, err := tx.Exec(
		`INSERT INTO audit_events (actor_id, action, resource_type, resource_id, ts, ip, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		actorID, ev.Action, ev.ResourceType, ev.ResourceID, ev.TS, ev.IP, ev.Metadata,
	)
	return err
}

// AppendAudit records a standalone audit event outside any state-changing
// transaction (logins, registrations and other non-authorization actions).
func (s *Store) AppendAudit(ev AuditEvent) error {
	if ev.TS.IsZero() {
		ev.TS = s.now()
	}
	return s.withTx(func(tx *sql.Tx) error {
		return s.insertAudit(tx, ev)
	})
}

// ListAudit returns the most recent limit events, newest first.
func (s *Store) ListAudit(limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(
		`SELECT id, actor_id, action, resource_type, resource_id, ts, ip, metadata
		 FROM audit_events ORDER BY ts DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]AuditEvent, 0)
	for rows.Next() {
		var ev AuditEvent
		var actorID sql.NullInt64
		if err := rows.Scan(&ev.ID, &actorID, &ev.Action, &ev.ResourceType, &ev.ResourceID, &ev.TS, &ev.IP, &ev.Metadata); err != nil {
			return nil, err
		}
		if actorID.Valid {
			ev.ActorID = &actorID.Int64
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
