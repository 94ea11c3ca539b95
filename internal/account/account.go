// Package account manages the set of AWS accounts Bouncer is willing to
// broker commands into: seeding from static configuration at startup, and
// the add/remove/list operations exposed over the Agent->Broker RPC
// surface. Both mutations stage a pending row and wait on an approver's
// account_approve/account_deny decision (C10); neither takes effect
// synchronously from the RPC handler.
package account

import (
	"context"
	"fmt"
	"time"

	"github.com/bouncer/broker/internal/config"
	"github.com/bouncer/broker/internal/model"
	"github.com/bouncer/broker/internal/store"
)

// Manager wraps store.Store's Account operations with the seeding and
// pending-addition bookkeeping the RPC surface needs.
type Manager struct {
	store store.Store
}

// New builds an account Manager.
func New(st store.Store) *Manager {
	return &Manager{store: st}
}

// Seed merges the statically configured accounts into the store at
// startup, leaving any already-present row (and its Enabled/RoleARN
// state) untouched so an operator's runtime approve/disable decisions
// survive a restart.
func (m *Manager) Seed(ctx context.Context, seeds []config.AccountSeed) error {
	for _, s := range seeds {
		if s.AccountID == "" {
			continue
		}
		if _, err := m.store.GetAccount(ctx, s.AccountID); err == nil {
			continue
		}
		acct := &model.Account{
			AccountID: s.AccountID,
			Name:      s.Name,
			Region:    s.Region,
			Enabled:   true,
			CreatedAt: time.Now(),
		}
		if err := m.store.PutAccount(ctx, acct); err != nil {
			return fmt.Errorf("account: seed %s: %w", s.AccountID, err)
		}
	}
	return m.ensureDefault(ctx)
}

// ensureDefault marks the first enabled account default when none is, so
// §4.8's resolveAccount("") never errors on a freshly seeded store.
func (m *Manager) ensureDefault(ctx context.Context) error {
	accounts, err := m.store.ListAccounts(ctx)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a.IsDefault {
			return nil
		}
	}
	for _, a := range accounts {
		if a.Enabled {
			a.IsDefault = true
			return m.store.PutAccount(ctx, a)
		}
	}
	return nil
}

// RequestAdd stages a new account row, disabled until an approver acts on
// it via C10's account_approve/account_deny transition.
func (m *Manager) RequestAdd(ctx context.Context, accountID, name, roleARN, region string) (*model.Account, error) {
	if _, err := m.store.GetAccount(ctx, accountID); err == nil {
		return nil, fmt.Errorf("account: %s already exists", accountID)
	}
	acct := &model.Account{
		AccountID: accountID,
		Name:      name,
		Region:    region,
		RoleARN:   roleARN,
		Enabled:   false,
		CreatedAt: time.Now(),
	}
	if err := m.store.PutAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// RequestRemove stages an existing account for deletion by setting
// PendingRemoval rather than deleting the row outright, mirroring
// RequestAdd's staging so remove_account gates on the same
// account_approve/account_deny transition instead of taking effect
// synchronously. The row (and anything resolving against it) keeps
// working until an approver confirms the removal.
func (m *Manager) RequestRemove(ctx context.Context, accountID string) (*model.Account, error) {
	acct, err := m.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("account: %s not found", accountID)
	}
	if acct.PendingRemoval {
		return nil, fmt.Errorf("account: %s removal already pending", accountID)
	}
	acct.PendingRemoval = true
	if err := m.store.PutAccount(ctx, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// List returns every configured account, enabled or not.
func (m *Manager) List(ctx context.Context) ([]*model.Account, error) {
	return m.store.ListAccounts(ctx)
}

// Get returns one account by id.
func (m *Manager) Get(ctx context.Context, accountID string) (*model.Account, error) {
	return m.store.GetAccount(ctx, accountID)
}
