package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrStaleStatus is returned when a guarded transition finds the request no
// longer in the expected state.
var ErrStaleStatus = errors.New("store: request status changed concurrently")

// CreateJitRequest inserts a PENDING request and its audit record in one
// transaction.
func (s *Store) CreateJitRequest(userID, assetID, roleID int64, reason string, durationMinutes int, ip string) (*JitRequest, error) {
	now := s.now()
	req := &JitRequest{
		UserID:          userID,
		AssetID:         assetID,
		RoleID:          roleID,
		Reason:          reason,
		DurationMinutes: durationMinutes,
		Status:          StatusPending,
		CreatedAt:       now,
	}
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO jit_requests (user_id, asset_id, role_id, reason, duration_minutes, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			userID, assetID, roleID, reason, durationMinutes, StatusPending, now,
		)
		if err != nil {
			return err
		}
		req.ID, err = res.LastInsertId()
		if err != nil {
			return err
		}
		return s.insertAudit(tx, AuditEvent{
			ActorID:      &userID,
			Action:       "jit_request",
			ResourceType: "jit_request",
			ResourceID:   fmt.Sprintf("%d", req.ID),
			TS:           now,
			IP:           ip,
		})
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

// JitRequestByID looks a request up by id. Returns ErrNotFound if absent.
func (s *Store) JitRequestByID(id int64) (*JitRequest, error) {
	return s.scanJitRequest(s.db.QueryRow(jitSelect+` WHERE id = ?`, id))
}

const jitSelect = `SELECT id, user_id, asset_id, role_id, reason, duration_minutes, status, approved_by, created_at, expires_at FROM jit_requests`

func (s *Store) scanJitRequest(row *sql.Row) (*JitRequest, error) {
	var req JitRequest
	var approvedBy sql.NullInt64
	var expiresAt sql.NullTime
	err := row.Scan(&req.ID, &req.UserID, &req.AssetID, &req.RoleID, &req.Reason,
		&req.DurationMinutes, &req.Status, &approvedBy, &req.CreatedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if approvedBy.Valid {
		req.ApprovedBy = &approvedBy.Int64
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		req.ExpiresAt = &t
	}
	return &req, nil
}

// ListJitRequests returns requests newest first. When all is false the list
// is restricted to requests created by userID.
func (s *Store) ListJitRequests(userID int64, all bool) ([]JitRequest, error) {
	query := jitSelect + ` ORDER BY created_at DESC, id DESC`
	args := []any{}
	if !all {
		query = jitSelect + ` WHERE user_id = ? ORDER BY created_at DESC, id DESC`
		args = append(args, userID)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := make([]JitRequest, 0)
	for rows.Next() {
		var req JitRequest
		var approvedBy sql.NullInt64
		var expiresAt sql.NullTime
		if err := rows.Scan(&req.ID, &req.UserID, &req.AssetID, &req.RoleID, &req.Reason,
			&req.DurationMinutes, &req.Status, &approvedBy, &req.CreatedAt, &expiresAt); err != nil {
			return nil, err
		}
		if approvedBy.Valid {
			req.ApprovedBy = &approvedBy.Int64
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			req.ExpiresAt = &t
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// ApproveJitRequest transitions a PENDING request to APPROVED, setting the
// approver and the expiry, and records the audit event atomically. The status
// guard makes concurrent approve/deny calls lose cleanly.
func (s *Store) ApproveJitRequest(id, approverID int64, expiresAt time.Time, ip string) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE jit_requests SET status = ?, approved_by = ?, expires_at = ? WHERE id = ? AND status = ?`,
			StatusApproved, approverID, expiresAt, id, StatusPending,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrStaleStatus
		}
		return s.insertAudit(tx, AuditEvent{
			ActorID:      &approverID,
			Action:       "jit_approve",
			ResourceType: "jit_request",
			ResourceID:   fmt.Sprintf("%d", id),
			TS:           s.now(),
			IP:           ip,
		})
	})
}

// DenyJitRequest transitions a PENDING request to DENIED. No expiry is set.
func (s *Store) DenyJitRequest(id, approverID int64, ip string) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE jit_requests SET status = ?, approved_by = ? WHERE id = ? AND status = ?`,
			StatusDenied, approverID, id, StatusPending,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrStaleStatus
		}
		return s.insertAudit(tx, AuditEvent{
			ActorID:      &approverID,
			Action:       "jit_deny",
			ResourceType: "jit_request",
			ResourceID:   fmt.Sprintf("%d", id),
			TS:           s.now(),
			IP:           ip,
		})
	})
}

// ExpireStaleRequests flips every APPROVED request whose expiry has passed to
// EXPIRED in one batch transaction. Returns the number of requests expired.
// Already-expired requests are not selected again.
func (s *Store) ExpireStaleRequests() (int64, error) {
	var n int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE jit_requests SET status = ? WHERE status = ? AND expires_at IS NOT NULL AND expires_at < ?`,
			StatusExpired, StatusApproved, s.now(),
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}
