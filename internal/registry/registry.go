// Package registry resolves account names to persisted accounts and enforces
// name uniqueness against both the store and the host's OS account namespace.
package registry

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"spawnhub/internal/fault"
	"spawnhub/internal/model"
	"spawnhub/internal/store"
)

// Authenticator is the pluggable credential collaborator. Only the naming and
// account-sync hooks are consumed here; credential validation itself happens
// outside this service.
type Authenticator interface {
	Normalize(name string) string
	Validate(name string) bool
	AddAccount(ctx context.Context, account model.Account) error
	DeleteAccount(ctx context.Context, account model.Account) error
	LoginURL() string
}

// OSNamespace answers whether a name is already taken by a system account.
type OSNamespace interface {
	Exists(name string) bool
}

type Registry struct {
	store *store.Store
	auth  Authenticator
	osns  OSNamespace
}

func New(st *store.Store, auth Authenticator, osns OSNamespace) *Registry {
	return &Registry{store: st, auth: auth, osns: osns}
}

func (r *Registry) Find(name string) (model.Account, bool) {
	return r.store.GetAccount(r.auth.Normalize(name))
}

func (r *Registry) List() []model.Account {
	return r.store.ListAccounts()
}

func (r *Registry) Record(name string) (model.ProvisioningRecord, bool) {
	return r.store.GetRecord(r.auth.Normalize(name))
}

func (r *Registry) Normalize(name string) string { return r.auth.Normalize(name) }

// CheckName normalizes and validates a candidate account name.
func (r *Registry) CheckName(name string) (string, error) {
	name = r.auth.Normalize(name)
	if !r.auth.Validate(name) {
		return name, fault.New(fault.InvalidArgument, "invalid username: %s", name)
	}
	return name, nil
}

// Reserved reports whether the name collides with a pre-existing system
// account outside this service's control.
func (r *Registry) Reserved(name string) bool {
	return r.osns.Exists(r.auth.Normalize(name))
}

// Create validates the name, checks uniqueness against the store and the OS
// namespace, commits the account, and syncs it to the authenticator. A failed
// authenticator sync deletes the just-created account so no orphaned identity
// remains.
func (r *Registry) Create(ctx context.Context, name string, admin bool) (model.Account, error) {
	name, err := r.CheckName(name)
	if err != nil {
		return model.Account{}, err
	}
	if r.osns.Exists(name) {
		return model.Account{}, fault.New(fault.Conflict, "username %s is reserved by a system account", name)
	}

	now := time.Now().UnixMilli()
	account := model.Account{
		ID:        uuid.NewString(),
		Name:      name,
		Admin:     admin,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = r.store.Update(func(tx *store.Tx) error {
		if _, ok := tx.GetAccount(name); ok {
			return fault.New(fault.Conflict, "user %s already exists", name)
		}
		tx.PutAccount(account)
		return nil
	})
	if err != nil {
		return model.Account{}, err
	}

	if err := r.auth.AddAccount(ctx, account); err != nil {
		log.Printf("registry: authenticator add failed for %s, rolling back: %v", name, err)
		r.discard(name)
		return model.Account{}, fault.Wrap(fault.Upstream, err, "failed to create user %s", name)
	}

	return account, nil
}

// PutRecord commits a provisioning record for an existing account.
func (r *Registry) PutRecord(rec model.ProvisioningRecord) error {
	return r.store.Update(func(tx *store.Tx) error {
		if _, ok := tx.GetAccount(rec.AccountName); !ok {
			return fault.New(fault.NotFound, "user %s not found", rec.AccountName)
		}
		tx.PutRecord(rec)
		return nil
	})
}

// Rollback removes an account whose provisioning never completed, undoing the
// authenticator sync as well.
func (r *Registry) Rollback(ctx context.Context, account model.Account) {
	if err := r.auth.DeleteAccount(ctx, account); err != nil {
		log.Printf("registry: authenticator delete failed for %s during rollback: %v", account.Name, err)
	}
	r.discard(account.Name)
}

func (r *Registry) discard(name string) {
	_ = r.store.Update(func(tx *store.Tx) error {
		tx.DeleteAccount(name)
		tx.DeleteRecord(name)
		return nil
	})
}

// Rename changes an account's name after re-validating uniqueness, moving the
// provisioning record with it in the same commit.
func (r *Registry) Rename(account model.Account, newName string) (model.Account, error) {
	newName, err := r.CheckName(newName)
	if err != nil {
		return model.Account{}, err
	}
	if newName == account.Name {
		return account, nil
	}
	if r.osns.Exists(newName) {
		return model.Account{}, fault.New(fault.Conflict, "username %s is reserved by a system account", newName)
	}

	renamed := account
	renamed.Name = newName
	renamed.UpdatedAt = time.Now().UnixMilli()

	err = r.store.Update(func(tx *store.Tx) error {
		if _, ok := tx.GetAccount(newName); ok {
			return fault.New(fault.Conflict, "user %s already exists, username must be unique", newName)
		}
		if _, ok := tx.GetAccount(account.Name); !ok {
			return fault.New(fault.NotFound, "user %s not found", account.Name)
		}
		tx.DeleteAccount(account.Name)
		tx.PutAccount(renamed)
		if rec, ok := tx.GetRecord(account.Name); ok {
			tx.DeleteRecord(account.Name)
			rec.AccountName = newName
			tx.PutRecord(rec)
		}
		return nil
	})
	if err != nil {
		return model.Account{}, err
	}
	return renamed, nil
}

// SetAdmin updates the administrator flag.
func (r *Registry) SetAdmin(account model.Account, admin bool) (model.Account, error) {
	updated := account
	updated.Admin = admin
	updated.UpdatedAt = time.Now().UnixMilli()
	err := r.store.Update(func(tx *store.Tx) error {
		if _, ok := tx.GetAccount(account.Name); !ok {
			return fault.New(fault.NotFound, "user %s not found", account.Name)
		}
		tx.PutAccount(updated)
		return nil
	})
	if err != nil {
		return model.Account{}, err
	}
	return updated, nil
}

// Delete removes the account and its provisioning record, syncing the removal
// to the authenticator first. Callers must have verified that no session is
// active.
func (r *Registry) Delete(ctx context.Context, account model.Account) error {
	if err := r.auth.DeleteAccount(ctx, account); err != nil {
		return fault.Wrap(fault.Upstream, err, "failed to delete user %s", account.Name)
	}
	r.discard(account.Name)
	return nil
}

// LoginURL exposes the authenticator's login entry point.
func (r *Registry) LoginURL() string { return r.auth.LoginURL() }
