package registry

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/registryx/grain/pkg/apierr"
	"github.com/registryx/grain/pkg/authz"
	"github.com/registryx/grain/pkg/middleware"
)

type tagsResponse struct {
	Name string   `json:"name"`
	Tags []string `json:"tags"`
}

// ListTags enumerates and paginates a repository's tags. A missing
// repository returns 200 with an empty list, not 404.
func (h *Handler) ListTags(w http.ResponseWriter, r *http.Request) {
	org, repo := mux.Vars(r)["org"], mux.Vars(r)["repo"]
	u := middleware.UserFromContext(r)
	if !authz.Allowed(u, repoName(org, repo), nil, authz.ActionPull) {
		apierr.Write(w, h.Host, apierr.CodeDenied, "pull not permitted", "")
		return
	}

	tags, err := h.Storage.ListTags(org, repo)
	if err != nil {
		apierr.Write(w, h.Host, apierr.CodeUnknown, "failed to list tags", err.Error())
		return
	}

	q := r.URL.Query()
	if last := q.Get("last"); last != "" {
		tags = dropUpTo(tags, last)
	}
	if n := q.Get("n"); n != "" {
		if limit, err := strconv.Atoi(n); err == nil && limit >= 0 {
			tags = truncate(tags, limit)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(tagsResponse{Name: repoName(org, repo), Tags: tags})
}

// dropUpTo returns the suffix of sorted tags strictly greater than last.
func dropUpTo(tags []string, last string) []string {
	i := sort.Search(len(tags), func(i int) bool { return tags[i] > last })
	return tags[i:]
}

func truncate(tags []string, n int) []string {
	if n < len(tags) {
		return tags[:n]
	}
	return tags
}
