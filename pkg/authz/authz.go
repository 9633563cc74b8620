// Package authz decides allow/deny for a (user, repository, tag, action)
// tuple. It holds no state of its own; it is a pure function over the
// users.User values produced by pkg/users.
package authz

import (
	"github.com/registryx/grain/pkg/ocidigest"
	"github.com/registryx/grain/pkg/users"
)

// Action is one of the three verbs a permission can grant.
type Action string

const (
	ActionPull   Action = "pull"
	ActionPush   Action = "push"
	ActionDelete Action = "delete"
)

// Allowed evaluates u's permission list against repository, an optional tag,
// and action. An empty permission list always denies (I4).
func Allowed(u *users.User, repository string, tag *string, action Action) bool {
	if u == nil || len(u.Permissions) == 0 {
		return false
	}
	for _, p := range u.Permissions {
		if !ocidigest.Glob(p.Repository, repository) {
			continue
		}
		if tag != nil && !ocidigest.Glob(p.Tag, *tag) {
			continue
		}
		if hasAction(p.Actions, action) {
			return true
		}
	}
	return false
}

func hasAction(actions []string, action Action) bool {
	for _, a := range actions {
		if Action(a) == action {
			return true
		}
	}
	return false
}

// IsAdmin reports whether u holds the single capability that gates every
// admin endpoint: delete on every repository and every tag.
func IsAdmin(u *users.User) bool {
	all := "*"
	return Allowed(u, "*", &all, ActionDelete)
}
