package registry

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/registryx/grain/pkg/apierr"
	"github.com/registryx/grain/pkg/authz"
	"github.com/registryx/grain/pkg/middleware"
	"github.com/registryx/grain/pkg/ocidigest"
	"github.com/registryx/grain/pkg/storage"
)

func (h *Handler) blobLocation(org, repo, digest string) string {
	return fmt.Sprintf("http://%s/v2/%s/%s/blobs/%s", h.Host, org, repo, digest)
}

func (h *Handler) uploadLocation(org, repo, uploadUUID string) string {
	return fmt.Sprintf("http://%s/v2/%s/%s/blobs/uploads/%s", h.Host, org, repo, uploadUUID)
}

// GetBlob streams a blob's bytes. Requires pull.
func (h *Handler) GetBlob(w http.ResponseWriter, r *http.Request) {
	org, repo, digest := mux.Vars(r)["org"], mux.Vars(r)["repo"], mux.Vars(r)["digest"]
	u := middleware.UserFromContext(r)
	if !authz.Allowed(u, repoName(org, repo), nil, authz.ActionPull) {
		apierr.Write(w, h.Host, apierr.CodeDenied, "pull not permitted", "")
		return
	}

	data, err := h.Storage.ReadBlob(org, repo, digest)
	if err != nil {
		h.writeStorageErr(w, err, apierr.CodeBlobUnknown, "blob not found")
		return
	}
	w.Header().Set("Docker-Content-Digest", "sha256:"+ocidigest.StripAlgo(digest))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// HeadBlob reports whether a blob exists, headers only.
func (h *Handler) HeadBlob(w http.ResponseWriter, r *http.Request) {
	org, repo, digest := mux.Vars(r)["org"], mux.Vars(r)["repo"], mux.Vars(r)["digest"]
	u := middleware.UserFromContext(r)
	if !authz.Allowed(u, repoName(org, repo), nil, authz.ActionPull) {
		apierr.Write(w, h.Host, apierr.CodeDenied, "pull not permitted", "")
		return
	}

	size, err := h.Storage.BlobSize(org, repo, digest)
	if err != nil {
		h.writeStorageErr(w, err, apierr.CodeBlobUnknown, "blob not found")
		return
	}
	w.Header().Set("Docker-Content-Digest", "sha256:"+ocidigest.StripAlgo(digest))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
	w.WriteHeader(http.StatusOK)
}

// DeleteBlob removes a blob file.
func (h *Handler) DeleteBlob(w http.ResponseWriter, r *http.Request) {
	org, repo, digest := mux.Vars(r)["org"], mux.Vars(r)["repo"], mux.Vars(r)["digest"]
	u := middleware.UserFromContext(r)
	if !authz.Allowed(u, repoName(org, repo), nil, authz.ActionDelete) {
		apierr.Write(w, h.Host, apierr.CodeDenied, "delete not permitted", "")
		return
	}

	if err := h.Storage.DeleteBlob(org, repo, digest); err != nil {
		h.writeStorageErr(w, err, apierr.CodeBlobUnknown, "blob not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// StartBlobUpload is the single POST entry point dispatching, in priority
// order, to mount, monolithic upload, or a fresh resumable session.
func (h *Handler) StartBlobUpload(w http.ResponseWriter, r *http.Request) {
	org, repo := mux.Vars(r)["org"], mux.Vars(r)["repo"]
	u := middleware.UserFromContext(r)
	if !authz.Allowed(u, repoName(org, repo), nil, authz.ActionPush) {
		apierr.Write(w, h.Host, apierr.CodeDenied, "push not permitted", "")
		return
	}

	q := r.URL.Query()
	mountDigest := q.Get("mount")
	from := q.Get("from")

	if mountDigest != "" && from != "" {
		if h.tryMount(w, r, org, repo, mountDigest, from) {
			return
		}
		// fall through to monolithic/session creation per spec §4.F step 1.
	}

	if digest := q.Get("digest"); digest != "" {
		h.monolithicUpload(w, r, org, repo, digest)
		return
	}

	h.newUploadSession(w, org, repo)
}

func (h *Handler) tryMount(w http.ResponseWriter, r *http.Request, org, repo, mountDigest, from string) bool {
	srcOrg, srcRepo, ok := splitRepoRef(from)
	if !ok {
		return false
	}
	caller := middleware.UserFromContext(r)
	if !authz.Allowed(caller, repoName(srcOrg, srcRepo), nil, authz.ActionPull) {
		return false
	}
	if err := h.Storage.MountBlob(srcOrg, srcRepo, org, repo, mountDigest); err != nil {
		return false
	}
	d := ocidigest.StripAlgo(mountDigest)
	w.Header().Set("Location", h.blobLocation(org, repo, "sha256:"+d))
	w.Header().Set("Docker-Content-Digest", "sha256:"+d)
	w.WriteHeader(http.StatusCreated)
	return true
}

func splitRepoRef(s string) (org, repo string, ok bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}

func (h *Handler) monolithicUpload(w http.ResponseWriter, r *http.Request, org, repo, digest string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.Write(w, h.Host, apierr.CodeBlobUploadInvalid, "failed reading request body", err.Error())
		return
	}
	d, err := h.Storage.WriteBlobMonolithic(org, repo, digest, body)
	if err != nil {
		if errors.Is(err, storage.ErrDigestMismatch) {
			apierr.Write(w, h.Host, apierr.CodeDigestInvalid, "digest does not match uploaded content", "")
			return
		}
		apierr.Write(w, h.Host, apierr.CodeBlobUploadInvalid, "failed to store blob", err.Error())
		return
	}
	w.Header().Set("Location", h.blobLocation(org, repo, "sha256:"+d))
	w.Header().Set("Docker-Content-Digest", "sha256:"+d)
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) newUploadSession(w http.ResponseWriter, org, repo string) {
	id := uuid.NewString()
	if err := h.Storage.InitUpload(org, repo, id); err != nil {
		apierr.Write(w, h.Host, apierr.CodeUnknown, "failed to create upload session", err.Error())
		return
	}
	w.Header().Set("Location", h.uploadLocation(org, repo, id))
	w.Header().Set("Range", "0-0")
	w.Header().Set("Docker-Upload-UUID", id)
	w.WriteHeader(http.StatusAccepted)
}

// PatchBlobUpload appends a chunk to an open upload session.
func (h *Handler) PatchBlobUpload(w http.ResponseWriter, r *http.Request) {
	org, repo, id := mux.Vars(r)["org"], mux.Vars(r)["repo"], mux.Vars(r)["uuid"]
	u := middleware.UserFromContext(r)
	if !authz.Allowed(u, repoName(org, repo), nil, authz.ActionPush) {
		apierr.Write(w, h.Host, apierr.CodeDenied, "push not permitted", "")
		return
	}

	chunk, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.Write(w, h.Host, apierr.CodeBlobUploadInvalid, "failed reading request body", err.Error())
		return
	}
	n, err := h.Storage.AppendUpload(org, repo, id, chunk)
	if err != nil {
		h.writeStorageErr(w, err, apierr.CodeBlobUploadUnknown, "upload session not found")
		return
	}
	w.Header().Set("Location", h.uploadLocation(org, repo, id))
	w.Header().Set("Range", fmt.Sprintf("0-%d", n-1))
	w.Header().Set("Docker-Upload-UUID", id)
	w.WriteHeader(http.StatusAccepted)
}

// PutBlobUpload finalizes an upload session, optionally appending a final
// chunk carried in the request body first.
func (h *Handler) PutBlobUpload(w http.ResponseWriter, r *http.Request) {
	org, repo, id := mux.Vars(r)["org"], mux.Vars(r)["repo"], mux.Vars(r)["uuid"]
	u := middleware.UserFromContext(r)
	if !authz.Allowed(u, repoName(org, repo), nil, authz.ActionPush) {
		apierr.Write(w, h.Host, apierr.CodeDenied, "push not permitted", "")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		apierr.Write(w, h.Host, apierr.CodeBlobUploadInvalid, "failed reading request body", err.Error())
		return
	}
	if len(body) > 0 {
		if _, err := h.Storage.AppendUpload(org, repo, id, body); err != nil {
			h.writeStorageErr(w, err, apierr.CodeBlobUploadUnknown, "upload session not found")
			return
		}
	}

	digest := r.URL.Query().Get("digest")
	d, err := h.Storage.FinalizeUpload(org, repo, id, digest)
	if err != nil {
		if errors.Is(err, storage.ErrDigestMismatch) {
			_ = h.Storage.DeleteUpload(org, repo, id)
			apierr.Write(w, h.Host, apierr.CodeDigestInvalid, "digest does not match uploaded content", "")
			return
		}
		h.writeStorageErr(w, err, apierr.CodeBlobUploadUnknown, "upload session not found")
		return
	}

	w.Header().Set("Location", h.blobLocation(org, repo, "sha256:"+d))
	w.Header().Set("Docker-Content-Digest", "sha256:"+d)
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) writeStorageErr(w http.ResponseWriter, err error, code apierr.Code, message string) {
	if errors.Is(err, storage.ErrNotFound) {
		apierr.Write(w, h.Host, code, message, "")
		return
	}
	apierr.Write(w, h.Host, apierr.CodeUnknown, "internal error", err.Error())
}
