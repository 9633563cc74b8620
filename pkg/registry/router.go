// Package registry implements the OCI Distribution v2 endpoint state
// machines: blob lifecycle (component F), manifest lifecycle (component G),
// and tag listing (component H). Grounded on original_source/src/blobs.rs
// and the teacher's pkg/registry/handlers.go for HTTP wiring conventions
// (gorilla/mux, Handler struct holding shared collaborators).
package registry

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/registryx/grain/pkg/middleware"
	"github.com/registryx/grain/pkg/storage"
	"github.com/registryx/grain/pkg/users"
)

// Handler wires the collaborators every v2 endpoint needs.
type Handler struct {
	Storage *storage.Backend
	Users   *users.Store
	Host    string
}

// New returns a Handler over the given storage backend and user store. Host
// is the externally-visible address used to build absolute Location headers
// and the WWW-Authenticate realm.
func New(s *storage.Backend, u *users.Store, host string) *Handler {
	return &Handler{Storage: s, Users: u, Host: host}
}

// Mount registers every /v2 endpoint on router, wrapped in Basic auth.
func (h *Handler) Mount(router *mux.Router) {
	v2 := router.PathPrefix("/v2").Subrouter()
	v2.Use(middleware.BasicAuth(h.Users, h.Host))

	v2.HandleFunc("", h.Base).Methods(http.MethodGet)
	v2.HandleFunc("/", h.Base).Methods(http.MethodGet)

	v2.HandleFunc("/{org}/{repo}/blobs/uploads/", h.StartBlobUpload).Methods(http.MethodPost)
	v2.HandleFunc("/{org}/{repo}/blobs/uploads/{uuid}", h.PatchBlobUpload).Methods(http.MethodPatch)
	v2.HandleFunc("/{org}/{repo}/blobs/uploads/{uuid}", h.PutBlobUpload).Methods(http.MethodPut)
	v2.HandleFunc("/{org}/{repo}/blobs/{digest}", h.GetBlob).Methods(http.MethodGet)
	v2.HandleFunc("/{org}/{repo}/blobs/{digest}", h.HeadBlob).Methods(http.MethodHead)
	v2.HandleFunc("/{org}/{repo}/blobs/{digest}", h.DeleteBlob).Methods(http.MethodDelete)

	v2.HandleFunc("/{org}/{repo}/manifests/{ref}", h.GetManifest).Methods(http.MethodGet)
	v2.HandleFunc("/{org}/{repo}/manifests/{ref}", h.HeadManifest).Methods(http.MethodHead)
	v2.HandleFunc("/{org}/{repo}/manifests/{ref}", h.PutManifest).Methods(http.MethodPut)
	v2.HandleFunc("/{org}/{repo}/manifests/{ref}", h.DeleteManifest).Methods(http.MethodDelete)

	v2.HandleFunc("/{org}/{repo}/tags/list", h.ListTags).Methods(http.MethodGet)
}

// Base answers the OCI "/v2/" discovery probe: any authenticated request is
// API-version-compatible.
func (h *Handler) Base(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Docker-Distribution-Api-Version", "registry/2.0")
	w.WriteHeader(http.StatusOK)
}

func repoName(org, repo string) string {
	return org + "/" + repo
}
