// Package admin implements component K: user CRUD, permission insertion,
// and the GC trigger, all gated by the inferred admin capability (component
// B). Grounded on original_source/src/admin.rs.
package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/registryx/grain/pkg/apierr"
	"github.com/registryx/grain/pkg/authz"
	"github.com/registryx/grain/pkg/gc"
	"github.com/registryx/grain/pkg/middleware"
	"github.com/registryx/grain/pkg/users"
)

// Handler wires the collaborators admin endpoints need.
type Handler struct {
	Users *users.Store
	GC    *gc.Collector
	Host  string
}

// New returns a Handler over the given user store and collector.
func New(u *users.Store, c *gc.Collector, host string) *Handler {
	return &Handler{Users: u, GC: c, Host: host}
}

// Mount registers every /admin endpoint on router, wrapped in Basic auth
// plus the admin-capability check.
func (h *Handler) Mount(router *mux.Router) {
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.BasicAuth(h.Users, h.Host))
	admin.Use(h.requireAdmin)

	admin.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost)
	admin.HandleFunc("/users/{username}", h.DeleteUser).Methods(http.MethodDelete)
	admin.HandleFunc("/users/{username}/permissions", h.AddPermissionForUser).Methods(http.MethodPost)
	admin.HandleFunc("/permissions", h.AddPermission).Methods(http.MethodPost)
	admin.HandleFunc("/gc", h.RunGC).Methods(http.MethodPost)
}

func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := middleware.UserFromContext(r)
		if !authz.IsAdmin(u) {
			apierr.WriteAdmin(w, http.StatusForbidden, "admin capability required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListUsers returns every user with their permissions.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Users.List())
}

type createUserRequest struct {
	Username    string             `json:"username"`
	Password    string             `json:"password"`
	Permissions []users.Permission `json:"permissions"`
}

// CreateUser adds a new user. 201 on success, 409 if username is taken.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteAdmin(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := h.Users.Create(users.User{Username: req.Username, Password: req.Password, Permissions: req.Permissions})
	if err != nil {
		if err == users.ErrConflict {
			apierr.WriteAdmin(w, http.StatusConflict, "username already exists")
			return
		}
		apierr.WriteAdmin(w, http.StatusInternalServerError, err.Error())
		return
	}
	apierr.WriteAdmin(w, http.StatusCreated, "user created")
}

// DeleteUser removes a user. 200 on success, 404 if unknown, 400 on
// self-delete.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["username"]
	caller := middleware.UserFromContext(r)
	err := h.Users.Delete(target, caller.Username)
	switch err {
	case nil:
		apierr.WriteAdmin(w, http.StatusOK, "user deleted")
	case users.ErrSelfDelete:
		apierr.WriteAdmin(w, http.StatusBadRequest, "cannot delete own account")
	case users.ErrNotFound:
		apierr.WriteAdmin(w, http.StatusNotFound, "user not found")
	default:
		apierr.WriteAdmin(w, http.StatusInternalServerError, err.Error())
	}
}

type addPermissionRequest struct {
	Repository string   `json:"repository"`
	Tag        string   `json:"tag"`
	Actions    []string `json:"actions"`
}

// AddPermissionForUser appends a permission to the user named in the path.
func (h *Handler) AddPermissionForUser(w http.ResponseWriter, r *http.Request) {
	target := mux.Vars(r)["username"]
	var req addPermissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteAdmin(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.addPermission(w, target, req)
}

type addPermissionWithUsernameRequest struct {
	Username   string   `json:"username"`
	Repository string   `json:"repository"`
	Tag        string   `json:"tag"`
	Actions    []string `json:"actions"`
}

// AddPermission is the equivalent of AddPermissionForUser with the username
// carried in the body instead of the path.
func (h *Handler) AddPermission(w http.ResponseWriter, r *http.Request) {
	var req addPermissionWithUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteAdmin(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.addPermission(w, req.Username, addPermissionRequest{Repository: req.Repository, Tag: req.Tag, Actions: req.Actions})
}

func (h *Handler) addPermission(w http.ResponseWriter, username string, req addPermissionRequest) {
	err := h.Users.AddPermission(username, users.Permission{Repository: req.Repository, Tag: req.Tag, Actions: req.Actions})
	switch err {
	case nil:
		apierr.WriteAdmin(w, http.StatusOK, "permission added")
	case users.ErrNotFound:
		apierr.WriteAdmin(w, http.StatusNotFound, "user not found")
	default:
		apierr.WriteAdmin(w, http.StatusInternalServerError, err.Error())
	}
}

// RunGC triggers a synchronous garbage collection pass.
func (h *Handler) RunGC(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dryRun := q.Get("dry_run") == "true"
	grace := 24
	if g := q.Get("grace_period_hours"); g != "" {
		if parsed, err := strconv.Atoi(g); err == nil && parsed >= 0 {
			grace = parsed
		}
	}

	stats, err := h.GC.Run(context.Background(), dryRun, grace)
	if err != nil {
		apierr.WriteAdmin(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
