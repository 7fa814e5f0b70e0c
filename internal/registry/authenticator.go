package registry

import (
	"context"
	"os/user"
	"regexp"
	"strings"

	"spawnhub/internal/model"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// PlainAuthenticator is the default naming policy: lowercase trimmed names
// restricted to a conservative POSIX-ish charset, with no external account
// sync. Deployments with a real identity backend replace this.
type PlainAuthenticator struct {
	LoginPath string
}

func (a PlainAuthenticator) Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (a PlainAuthenticator) Validate(name string) bool {
	return name != "" && len(name) <= 32 && usernamePattern.MatchString(name)
}

func (a PlainAuthenticator) AddAccount(ctx context.Context, account model.Account) error {
	return nil
}

func (a PlainAuthenticator) DeleteAccount(ctx context.Context, account model.Account) error {
	return nil
}

func (a PlainAuthenticator) LoginURL() string {
	if a.LoginPath != "" {
		return a.LoginPath
	}
	return "/login"
}

// SystemNamespace consults the host's user database.
type SystemNamespace struct{}

func (SystemNamespace) Exists(name string) bool {
	_, err := user.Lookup(name)
	return err == nil
}

// StaticNamespace is a fixed name set, used in tests and containerized
// deployments where the host user database is not authoritative.
type StaticNamespace map[string]struct{}

func (s StaticNamespace) Exists(name string) bool {
	_, ok := s[name]
	return ok
}
