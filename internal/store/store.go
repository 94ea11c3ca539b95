// Package store implements the State Store (C4): a transactional
// key-value store with secondary indices over Request, TrustSession,
// GrantSession, AuditLog, OutputPage and Account rows, plus TTL-based
// expiry.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/bouncer/broker/internal/model"
)

// ErrConflict is returned by UpdateRequest when its status precondition did
// not hold — the caller already lost the race, not a transient
// infrastructure error. ConsumeGrant reports a failed precondition as
// (false, nil) instead.
var ErrConflict = errors.New("store: conflict")

// ErrNotFound is returned by Get* when the row does not exist or has
// already expired.
var ErrNotFound = errors.New("store: not found")

// Store is the interface every pipeline component depends on. Both the
// Redis-backed production implementation and the in-memory test fake
// satisfy it, so pipeline tests never require a live Redis.
type Store interface {
	// Request
	PutRequest(ctx context.Context, req *model.Request) error
	GetRequest(ctx context.Context, requestID string) (*model.Request, error)
	// UpdateRequest loads the row, applies mutate, and writes it back. If
	// expectStatus is non-empty the write is conditioned on the row's
	// current status matching it; a mismatch returns ErrConflict.
	UpdateRequest(ctx context.Context, requestID string, expectStatus model.RequestStatus, mutate func(*model.Request) error) error
	ListPending(ctx context.Context, limit int) ([]*model.Request, error)
	ListBySource(ctx context.Context, source string, limit int) ([]*model.Request, error)
	CountPendingBySource(ctx context.Context, source string) (int, error)
	RecentCommands(source string, since time.Time) ([]string, error)
	ReapExpiredRequests(ctx context.Context) (int, error)
	MarkTimeouts(ctx context.Context) (int, error)

	// TrustSession
	GetTrustSession(ctx context.Context, source, accountID string) (*model.TrustSession, error)
	PutTrustSession(ctx context.Context, ts *model.TrustSession) error
	IncrementTrustCommandCount(ctx context.Context, trustID string) error
	DeleteTrustSession(ctx context.Context, trustID string) error

	// GrantSession
	PutGrantSession(ctx context.Context, gs *model.GrantSession) error
	GetGrantSession(ctx context.Context, grantID string) (*model.GrantSession, error)
	ActivateGrantSession(ctx context.Context, grantID string, grantedCommands []string, expiresAt time.Time) error
	DenyGrantSession(ctx context.Context, grantID string) error
	RevokeGrantSession(ctx context.Context, grantID string) error
	ConsumeGrant(ctx context.Context, grantID, normalizedCmd string, allowRepeat bool) (bool, error)

	// OutputPage
	PutOutputPage(ctx context.Context, page *model.OutputPage) error
	GetOutputPage(ctx context.Context, requestID string, page int) (*model.OutputPage, error)

	// Account
	PutAccount(ctx context.Context, acct *model.Account) error
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)
	ListAccounts(ctx context.Context) ([]*model.Account, error)
	DeleteAccount(ctx context.Context, accountID string) error
	DefaultAccount(ctx context.Context) (*model.Account, error)

	// AuditLog
	AppendAudit(ctx context.Context, entry *model.AuditLog) error
	ListAudit(ctx context.Context, requestID string) ([]*model.AuditLog, error)
}
