// Package jit owns the just-in-time request state machine: create, approve,
// deny, list, and the background expiry sweep.
package jit

import (
	"errors"
	"fmt"
	"time"

	"github.com/halcyon-sec/pamgate/internal/auth"
	"github.com/halcyon-sec/pamgate/internal/store"
)

var (
	// ErrValidation is returned for malformed requests (non-positive duration).
	ErrValidation = errors.New("jit: invalid request")
	// ErrNotFound is returned when the request does not exist.
	ErrNotFound = errors.New("jit: request not found")
	// ErrAlreadyProcessed is returned for approve/deny on a non-PENDING request.
	ErrAlreadyProcessed = errors.New("jit: request already processed")
	// ErrInvalidSecondFactor is returned when the approver's one-time code
	// fails verification.
	ErrInvalidSecondFactor = errors.New("jit: invalid second factor")
	// ErrForbidden is returned when the caller lacks the elevated capability.
	ErrForbidden = errors.New("jit: forbidden")
)

// Engine drives the request lifecycle against shared storage. It holds no
// mutable state of its own; every call is independent.
type Engine struct {
	store *store.Store
	now   func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(st *store.Store) *Engine {
	return NewEngineWithClock(st, func() time.Time { return time.Now().UTC() })
}

// NewEngineWithClock creates an Engine with a custom clock (for testing).
func NewEngineWithClock(st *store.Store, now func() time.Time) *Engine {
	if now == nil {
		panic("jit: nil clock")
	}
	return &Engine{store: st, now: now}
}

// Create opens a PENDING request for the given asset and role.
func (e *Engine) Create(requester *store.User, assetID, roleID int64, reason string, durationMinutes int, ip string) (*store.JitRequest, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrValidation)
	}
	return e.store.CreateJitRequest(requester.ID, assetID, roleID, reason, durationMinutes, ip)
}

// Approve transitions a PENDING request to APPROVED. The approver must hold
// the elevated capability and present a currently valid one-time code; the
// expiry is computed exactly once here, as approval time plus the requested
// duration.
func (e *Engine) Approve(id int64, approver *store.User, code, ip string) (*store.JitRequest, error) {
	if !approver.IsAdmin {
		return nil, ErrForbidden
	}
	if !approver.MFAEnabled || approver.MFASecret == "" {
		return nil, ErrInvalidSecondFactor
	}
	if code == "" || !auth.VerifyTOTP(approver.MFASecret, code, e.now()) {
		return nil, ErrInvalidSecondFactor
	}

	req, err := e.store.JitRequestByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if req.Status != store.StatusPending {
		return nil, ErrAlreadyProcessed
	}

	expiresAt := e.now().Add(time.Duration(req.DurationMinutes) * time.Minute)
	if err := e.store.ApproveJitRequest(id, approver.ID, expiresAt, ip); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return nil, ErrAlreadyProcessed
		}
		return nil, err
	}
	return e.store.JitRequestByID(id)
}

// Deny transitions a PENDING request to DENIED. Requires the elevated
// capability but no second factor. No expiry is set.
func (e *Engine) Deny(id int64, approver *store.User, ip string) (*store.JitRequest, error) {
	if !approver.IsAdmin {
		return nil, ErrForbidden
	}
	req, err := e.store.JitRequestByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if req.Status != store.StatusPending {
		return nil, ErrAlreadyProcessed
	}
	if err := e.store.DenyJitRequest(id, approver.ID, ip); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return nil, ErrAlreadyProcessed
		}
		return nil, err
	}
	return e.store.JitRequestByID(id)
}

// List returns requests visible to the caller, newest first: everything for
// admins, otherwise only the caller's own requests.
func (e *Engine) List(caller *store.User) ([]store.JitRequest, error) {
	return e.store.ListJitRequests(caller.ID, caller.IsAdmin)
}
