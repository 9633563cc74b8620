// Package users holds the process-wide user set: load/persist against a
// JSON file, lookup by credentials, and the mutations the admin API drives.
// Grounded on original_source/src/state.rs (the User/Permission shapes) and
// original_source/src/admin.rs (create/delete/add-permission/save_users).
package users

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/registryx/grain/internal/rlog"
)

// Permission grants actions over a (repository pattern, tag pattern) pair.
type Permission struct {
	Repository string   `json:"repository"`
	Tag        string   `json:"tag"`
	Actions    []string `json:"actions"`
}

// User is the stored identity: username, plaintext password, and an
// insertion-ordered permission list. The reference implementation this spec
// was distilled from compares passwords in plaintext over HTTP Basic; no
// hash is stored or expected anywhere in the user file.
type User struct {
	Username    string       `json:"username"`
	Password    string       `json:"password"`
	Permissions []Permission `json:"permissions"`
}

type fileFormat struct {
	Users []User `json:"users"`
}

// Store is the in-memory user set plus the path it persists to. All
// mutating methods hold the lock only across the in-memory update and the
// file rewrite — never across caller-visible I/O beyond that.
type Store struct {
	mu       sync.Mutex
	path     string
	byName   map[string]*User
	strict   bool
}

// ErrConflict is returned by Create when the username already exists.
var ErrConflict = fmt.Errorf("user already exists")

// ErrSelfDelete is returned by Delete when a user attempts to delete itself.
var ErrSelfDelete = fmt.Errorf("cannot delete own account")

// ErrNotFound is returned when an operation targets an unknown username.
var ErrNotFound = fmt.Errorf("user not found")

// Load reads path into a new Store. A missing or unparseable file is
// tolerated: the store starts empty and the condition is logged, unless
// strict is true, in which case either condition is a fatal error — see
// SPEC_FULL.md's strict-start addition.
func Load(path string, strict bool) (*Store, error) {
	s := &Store{path: path, byName: map[string]*User{}, strict: strict}

	data, err := os.ReadFile(path)
	if err != nil {
		if strict {
			return nil, fmt.Errorf("read users file: %w", err)
		}
		rlog.Users.Printf("no users file at %s, starting with empty user set: %v", path, err)
		return s, nil
	}

	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		if strict {
			return nil, fmt.Errorf("parse users file: %w", err)
		}
		rlog.Users.Printf("users file %s is not valid JSON, starting with empty user set: %v", path, err)
		return s, nil
	}

	for i := range ff.Users {
		u := ff.Users[i]
		s.byName[u.Username] = &u
	}
	return s, nil
}

// Lookup returns the user with the given username, or nil.
func (s *Store) Lookup(username string) *User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byName[username]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// Authenticate returns the user if username/password match exactly.
func (s *Store) Authenticate(username, password string) *User {
	u := s.Lookup(username)
	if u == nil || u.Password != password {
		return nil
	}
	return u
}

// List returns a snapshot of all users in no particular order.
func (s *Store) List() []User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]User, 0, len(s.byName))
	for _, u := range s.byName {
		out = append(out, *u)
	}
	return out
}

// Create adds a new user, failing with ErrConflict if username is taken.
func (s *Store) Create(u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byName[u.Username]; exists {
		return ErrConflict
	}
	if u.Permissions == nil {
		u.Permissions = []Permission{}
	}
	cp := u
	s.byName[u.Username] = &cp
	return s.persistLocked()
}

// Delete removes username, refusing if it equals requestedBy.
func (s *Store) Delete(username, requestedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if username == requestedBy {
		return ErrSelfDelete
	}
	if _, exists := s.byName[username]; !exists {
		return ErrNotFound
	}
	delete(s.byName, username)
	return s.persistLocked()
}

// AddPermission appends a permission to username's list.
func (s *Store) AddPermission(username string, p Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, exists := s.byName[username]
	if !exists {
		return ErrNotFound
	}
	u.Permissions = append(u.Permissions, p)
	return s.persistLocked()
}

// persistLocked rewrites the entire user file. Caller must hold s.mu.
func (s *Store) persistLocked() error {
	ff := fileFormat{Users: make([]User, 0, len(s.byName))}
	for _, u := range s.byName {
		ff.Users = append(ff.Users, *u)
	}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal users: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write users temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename users file: %w", err)
	}
	return nil
}
