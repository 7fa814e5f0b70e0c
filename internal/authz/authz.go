// Package authz decides whether a caller may act on a target account. The
// permission check always runs before the existence check so unauthorized
// callers cannot probe which accounts exist.
package authz

import (
	"spawnhub/internal/fault"
	"spawnhub/internal/model"
)

type Caller struct {
	Name  string
	Admin bool
}

type Level int

const (
	SelfOrAdmin Level = iota
	AdminOnly
)

// Finder resolves an account name; satisfied by the registry.
type Finder interface {
	Find(name string) (model.Account, bool)
}

type Gate struct {
	Accounts Finder
}

// Authorize checks permission only. Callers that also need the target account
// use Target.
func (g *Gate) Authorize(caller Caller, targetName string, level Level) error {
	switch level {
	case AdminOnly:
		if !caller.Admin {
			return fault.New(fault.Forbidden, "admin access required")
		}
	case SelfOrAdmin:
		if caller.Name != targetName && !caller.Admin {
			return fault.New(fault.Forbidden, "access denied")
		}
	}
	return nil
}

// Target authorizes and then resolves the target account, returning NotFound
// only to callers that passed the permission check.
func (g *Gate) Target(caller Caller, targetName string, level Level) (model.Account, error) {
	if err := g.Authorize(caller, targetName, level); err != nil {
		return model.Account{}, err
	}
	account, ok := g.Accounts.Find(targetName)
	if !ok {
		return model.Account{}, fault.New(fault.NotFound, "no such user %s", targetName)
	}
	return account, nil
}
