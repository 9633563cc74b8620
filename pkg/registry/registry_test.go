package registry

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/registryx/grain/pkg/ocidigest"
	"github.com/registryx/grain/pkg/storage"
	"github.com/registryx/grain/pkg/users"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.Backend, *users.Store) {
	t.Helper()
	dir := t.TempDir()
	backend, err := storage.New(dir)
	require.NoError(t, err)

	usersPath := filepath.Join(dir, "users.json")
	require.NoError(t, os.WriteFile(usersPath, []byte(`{"users":[
		{"username":"admin","password":"adminpass","permissions":[{"repository":"*","tag":"*","actions":["pull","push","delete"]}]}
	]}`), 0o600))
	store, err := users.Load(usersPath, false)
	require.NoError(t, err)

	h := New(backend, store, "registry.example:8888")
	router := mux.NewRouter()
	h.Mount(router)
	return httptest.NewServer(router), backend, store
}

func basicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func doReq(t *testing.T, srv *httptest.Server, method, path string, body string, auth string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func TestMonolithicPushAndPull(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	auth := basicAuthHeader("admin", "adminpass")

	body := "This is a test blob content"
	d := ocidigest.Compute([]byte(body))

	resp := doReq(t, srv, http.MethodPost, fmt.Sprintf("/v2/test/repo/blobs/uploads/?digest=sha256:%s", d), body, auth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "sha256:"+d, resp.Header.Get("Docker-Content-Digest"))

	resp = doReq(t, srv, http.MethodGet, "/v2/test/repo/blobs/sha256:"+d, "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMonolithicWrongDigest(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	auth := basicAuthHeader("admin", "adminpass")

	zeros := strings.Repeat("0", 64)
	resp := doReq(t, srv, http.MethodPost, "/v2/test/repo/blobs/uploads/?digest=sha256:"+zeros, "some content", auth)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCrossRepoMount(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	auth := basicAuthHeader("admin", "adminpass")

	body := "mount me"
	d := ocidigest.Compute([]byte(body))
	resp := doReq(t, srv, http.MethodPost, fmt.Sprintf("/v2/test/repo/blobs/uploads/?digest=sha256:%s", d), body, auth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doReq(t, srv, http.MethodPost, fmt.Sprintf("/v2/target/repo/blobs/uploads/?mount=sha256:%s&from=test/repo", d), "", auth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Location"), "/v2/target/repo/blobs/sha256:"+d)

	resp = doReq(t, srv, http.MethodHead, "/v2/target/repo/blobs/sha256:"+d, "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMountMissingSourceFallsThroughToSession(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	auth := basicAuthHeader("admin", "adminpass")

	zeros := strings.Repeat("0", 64)
	resp := doReq(t, srv, http.MethodPost, "/v2/target/repo/blobs/uploads/?mount=sha256:"+zeros+"&from=nope/repo", "", auth)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Docker-Upload-UUID"))
}

func TestChunkedUpload(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	auth := basicAuthHeader("admin", "adminpass")

	resp := doReq(t, srv, http.MethodPost, "/v2/test/repo/blobs/uploads/", "", auth)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	uuid := resp.Header.Get("Docker-Upload-UUID")
	require.NotEmpty(t, uuid)

	resp = doReq(t, srv, http.MethodPatch, "/v2/test/repo/blobs/uploads/"+uuid, "hello, ", auth)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "0-6", resp.Header.Get("Range"))

	resp = doReq(t, srv, http.MethodPatch, "/v2/test/repo/blobs/uploads/"+uuid, "world", auth)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, "0-11", resp.Header.Get("Range"))

	full := "hello, world"
	d := ocidigest.Compute([]byte(full))
	resp = doReq(t, srv, http.MethodPut, "/v2/test/repo/blobs/uploads/"+uuid+"?digest=sha256:"+d, "", auth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doReq(t, srv, http.MethodGet, "/v2/test/repo/blobs/sha256:"+d, "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTagListPagination(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	auth := basicAuthHeader("admin", "adminpass")

	manifestBody := `{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json","config":{"mediaType":"application/vnd.oci.image.config.v1+json","size":1,"digest":"sha256:` + strings.Repeat("a", 64) + `"},"layers":[{"mediaType":"application/vnd.oci.image.layer.v1.tar+gzip","size":1,"digest":"sha256:` + strings.Repeat("b", 64) + `"}]}`

	for i := 1; i <= 10; i++ {
		tag := fmt.Sprintf("v%d", i)
		resp := doReq(t, srv, http.MethodPut, "/v2/test/repo/manifests/"+tag, manifestBody, auth)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := doReq(t, srv, http.MethodGet, "/v2/test/repo/tags/list?n=5", "", auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUnauthenticatedReturns401WithChallenge(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	resp := doReq(t, srv, http.MethodGet, "/v2/test/repo/tags/list", "", "")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic realm=")
}

func TestTagScopedPermission(t *testing.T) {
	srv, _, store := newTestServer(t)
	defer srv.Close()
	adminAuth := basicAuthHeader("admin", "adminpass")

	manifestBody := `{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json","config":{"mediaType":"application/vnd.oci.image.config.v1+json","size":1,"digest":"sha256:` + strings.Repeat("a", 64) + `"},"layers":[{"mediaType":"application/vnd.oci.image.layer.v1.tar+gzip","size":1,"digest":"sha256:` + strings.Repeat("b", 64) + `"}]}`
	resp := doReq(t, srv, http.MethodPut, "/v2/myorg/myrepo/manifests/v1.0", manifestBody, adminAuth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = doReq(t, srv, http.MethodPut, "/v2/myorg/myrepo/manifests/latest", manifestBody, adminAuth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.NoError(t, store.Create(users.User{
		Username: "limited",
		Password: "pw",
		Permissions: []users.Permission{
			{Repository: "myorg/myrepo", Tag: "v*", Actions: []string{"pull"}},
		},
	}))
	limitedAuth := basicAuthHeader("limited", "pw")

	resp = doReq(t, srv, http.MethodGet, "/v2/myorg/myrepo/manifests/v1.0", "", limitedAuth)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doReq(t, srv, http.MethodGet, "/v2/myorg/myrepo/manifests/latest", "", limitedAuth)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestPutByTagThenGetByDigest(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	auth := basicAuthHeader("admin", "adminpass")

	manifestBody := `{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json","config":{"mediaType":"application/vnd.oci.image.config.v1+json","size":1,"digest":"sha256:` + strings.Repeat("a", 64) + `"},"layers":[{"mediaType":"application/vnd.oci.image.layer.v1.tar+gzip","size":1,"digest":"sha256:` + strings.Repeat("b", 64) + `"}]}`

	resp := doReq(t, srv, http.MethodPut, "/v2/test/repo/manifests/t", manifestBody, auth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	d := ocidigest.Compute([]byte(manifestBody))

	byTag := doReq(t, srv, http.MethodGet, "/v2/test/repo/manifests/t", "", auth)
	require.Equal(t, http.StatusOK, byTag.StatusCode)
	tagBody, err := io.ReadAll(byTag.Body)
	require.NoError(t, err)

	byDigest := doReq(t, srv, http.MethodGet, "/v2/test/repo/manifests/sha256:"+d, "", auth)
	require.Equal(t, http.StatusOK, byDigest.StatusCode)
	digestBody, err := io.ReadAll(byDigest.Body)
	require.NoError(t, err)

	require.Equal(t, tagBody, digestBody)
	require.Equal(t, manifestBody, string(digestBody))

	tagsResp := doReq(t, srv, http.MethodGet, "/v2/test/repo/tags/list", "", auth)
	require.Equal(t, http.StatusOK, tagsResp.StatusCode)
	tagsBody, err := io.ReadAll(tagsResp.Body)
	require.NoError(t, err)
	require.Contains(t, string(tagsBody), `"t"`)
	require.NotContains(t, string(tagsBody), d)
}

func TestManifestInvalidSchemaVersion(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	auth := basicAuthHeader("admin", "adminpass")
	resp := doReq(t, srv, http.MethodPut, "/v2/test/repo/manifests/v1", `{"schemaVersion":1}`, auth)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteThenDeleteAgainIs404(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()
	auth := basicAuthHeader("admin", "adminpass")

	body := "content"
	d := ocidigest.Compute([]byte(body))
	resp := doReq(t, srv, http.MethodPost, "/v2/test/repo/blobs/uploads/?digest=sha256:"+d, body, auth)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doReq(t, srv, http.MethodDelete, "/v2/test/repo/blobs/sha256:"+d, "", auth)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = doReq(t, srv, http.MethodDelete, "/v2/test/repo/blobs/sha256:"+d, "", auth)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}
