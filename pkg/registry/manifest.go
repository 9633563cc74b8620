package registry

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/registryx/grain/pkg/apierr"
	"github.com/registryx/grain/pkg/authz"
	"github.com/registryx/grain/pkg/manifest"
	"github.com/registryx/grain/pkg/middleware"
	"github.com/registryx/grain/pkg/ocidigest"
)

const defaultManifestMediaType = "application/vnd.oci.image.manifest.v1+json"

func tagForAuthz(ref string) string {
	return ocidigest.StripAlgo(ref)
}

// GetManifest returns a manifest's bytes with the correct content type and
// digest headers.
func (h *Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	org, repo, ref := mux.Vars(r)["org"], mux.Vars(r)["repo"], mux.Vars(r)["ref"]
	u := middleware.UserFromContext(r)
	tag := tagForAuthz(ref)
	if !authz.Allowed(u, repoName(org, repo), &tag, authz.ActionPull) {
		apierr.Write(w, h.Host, apierr.CodeDenied, "pull not permitted", "")
		return
	}

	body, err := h.Storage.ReadManifest(org, repo, ref)
	if err != nil {
		h.writeStorageErr(w, err, apierr.CodeManifestUnknown, "manifest not found")
		return
	}
	mt := defaultManifestMediaType
	if res, err := manifest.Validate(body); err == nil {
		mt = res.MediaType
	}
	d := ocidigest.Compute(body)
	w.Header().Set("Content-Type", mt)
	w.Header().Set("Docker-Content-Digest", "sha256:"+d)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// HeadManifest reports manifest presence, headers only.
func (h *Handler) HeadManifest(w http.ResponseWriter, r *http.Request) {
	org, repo, ref := mux.Vars(r)["org"], mux.Vars(r)["repo"], mux.Vars(r)["ref"]
	u := middleware.UserFromContext(r)
	tag := tagForAuthz(ref)
	if !authz.Allowed(u, repoName(org, repo), &tag, authz.ActionPull) {
		apierr.Write(w, h.Host, apierr.CodeDenied, "pull not permitted", "")
		return
	}

	body, err := h.Storage.ReadManifest(org, repo, ref)
	if err != nil {
		h.writeStorageErr(w, err, apierr.CodeManifestUnknown, "manifest not found")
		return
	}
	mt := defaultManifestMediaType
	if res, err := manifest.Validate(body); err == nil {
		mt = res.MediaType
	}
	d := ocidigest.Compute(body)
	w.Header().Set("Content-Type", mt)
	w.Header().Set("Docker-Content-Digest", "sha256:"+d)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(body)))
	w.WriteHeader(http.StatusOK)
}

// PutManifest validates and stores a manifest, dual-indexing by tag and
// digest when ref is a tag.
func (h *Handler) PutManifest(w http.ResponseWriter, r *http.Request) {
	org, repo, ref := mux.Vars(r)["org"], mux.Vars(r)["repo"], mux.Vars(r)["ref"]
	u := middleware.UserFromContext(r)
	tag := tagForAuthz(ref)
	if !authz.Allowed(u, repoName(org, repo), &tag, authz.ActionPush) {
		apierr.Write(w, h.Host, apierr.CodeDenied, "push not permitted", "")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.Write(w, h.Host, apierr.CodeManifestInvalid, "failed reading request body", err.Error())
		return
	}

	if _, err := manifest.Validate(body); err != nil {
		apierr.Write(w, h.Host, apierr.CodeManifestInvalid, "manifest failed validation", err.Error())
		return
	}

	if err := h.Storage.WriteManifest(org, repo, ref, body); err != nil {
		apierr.Write(w, h.Host, apierr.CodeUnknown, "failed to store manifest", err.Error())
		return
	}
	d := ocidigest.Compute(body)
	if !strings.HasPrefix(ref, "sha256:") {
		if err := h.Storage.WriteManifest(org, repo, "sha256:"+d, body); err != nil {
			apierr.Write(w, h.Host, apierr.CodeUnknown, "failed to store manifest digest index", err.Error())
			return
		}
	}

	w.Header().Set("Location", fmt.Sprintf("http://%s/v2/%s/%s/manifests/%s", h.Host, org, repo, ref))
	w.Header().Set("Docker-Content-Digest", "sha256:"+d)
	w.WriteHeader(http.StatusCreated)
}

// DeleteManifest removes the manifest stored under ref. It does not cascade
// to referenced blobs.
func (h *Handler) DeleteManifest(w http.ResponseWriter, r *http.Request) {
	org, repo, ref := mux.Vars(r)["org"], mux.Vars(r)["repo"], mux.Vars(r)["ref"]
	u := middleware.UserFromContext(r)
	tag := tagForAuthz(ref)
	if !authz.Allowed(u, repoName(org, repo), &tag, authz.ActionDelete) {
		apierr.Write(w, h.Host, apierr.CodeDenied, "delete not permitted", "")
		return
	}

	if err := h.Storage.DeleteManifest(org, repo, ref); err != nil {
		h.writeStorageErr(w, err, apierr.CodeManifestUnknown, "manifest not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
