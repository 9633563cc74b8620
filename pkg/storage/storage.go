// Package storage implements the on-disk content-addressed layout: blobs,
// manifests, and upload sessions under a fixed root, and the operations the
// registry endpoints drive against them. Grounded on
// original_source/src/storage.rs, which this package follows path layout,
// sanitization, and finalize/mount semantics from exactly.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/registryx/grain/pkg/ocidigest"
)

// ErrNotFound is returned by read/stat/delete operations on a missing path.
var ErrNotFound = errors.New("not found")

// ErrDigestMismatch is returned by write/finalize operations when the
// computed digest does not match the caller-supplied one.
var ErrDigestMismatch = errors.New("digest mismatch")

// Backend is the local-filesystem content-addressed store rooted at Root,
// laid out as blobs/<org>/<repo>/<digest>, manifests/<org>/<repo>/<ref>,
// uploads/<org>/<repo>/<uuid>.
type Backend struct {
	Root string
}

// New returns a Backend rooted at root, creating the three top-level
// directories if absent.
func New(root string) (*Backend, error) {
	b := &Backend{Root: root}
	for _, d := range []string{"blobs", "manifests", "uploads"} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", d, err)
		}
	}
	return b, nil
}

func part(org, repo string) string {
	return filepath.Join(ocidigest.Sanitize(org), ocidigest.Sanitize(repo))
}

func (b *Backend) blobPath(org, repo, digest string) string {
	return filepath.Join(b.Root, "blobs", part(org, repo), ocidigest.Sanitize(digest))
}

func (b *Backend) blobDir(org, repo string) string {
	return filepath.Join(b.Root, "blobs", part(org, repo))
}

func (b *Backend) manifestPath(org, repo, ref string) string {
	return filepath.Join(b.Root, "manifests", part(org, repo), ocidigest.Sanitize(ref))
}

func (b *Backend) manifestDir(org, repo string) string {
	return filepath.Join(b.Root, "manifests", part(org, repo))
}

func (b *Backend) uploadPath(org, repo, uuid string) string {
	return filepath.Join(b.Root, "uploads", part(org, repo), ocidigest.Sanitize(uuid))
}

func (b *Backend) uploadDir(org, repo string) string {
	return filepath.Join(b.Root, "uploads", part(org, repo))
}

// WriteBlobMonolithic verifies digest(body) == strip_algo(requestedDigest)
// and, on success, writes body atomically at the blob path.
func (b *Backend) WriteBlobMonolithic(org, repo, requestedDigest string, body []byte) (string, error) {
	d := ocidigest.Compute(body)
	if d != ocidigest.StripAlgo(requestedDigest) {
		return "", ErrDigestMismatch
	}
	dir := b.blobDir(org, repo)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir blob dir: %w", err)
	}
	if err := atomicWrite(b.blobPath(org, repo, d), body); err != nil {
		return "", err
	}
	return d, nil
}

// ReadBlob returns the byte contents of the blob identified by digest.
func (b *Backend) ReadBlob(org, repo, digest string) ([]byte, error) {
	data, err := os.ReadFile(b.blobPath(org, repo, ocidigest.StripAlgo(digest)))
	if err != nil {
		return nil, notFoundOr(err)
	}
	return data, nil
}

// BlobSize returns the size in bytes of the named blob.
func (b *Backend) BlobSize(org, repo, digest string) (int64, error) {
	fi, err := os.Stat(b.blobPath(org, repo, ocidigest.StripAlgo(digest)))
	if err != nil {
		return 0, notFoundOr(err)
	}
	return fi.Size(), nil
}

// DeleteBlob removes the blob file for digest.
func (b *Backend) DeleteBlob(org, repo, digest string) error {
	err := os.Remove(b.blobPath(org, repo, ocidigest.StripAlgo(digest)))
	if err != nil {
		return notFoundOr(err)
	}
	return nil
}

// MountBlob makes digest available under (dstOrg, dstRepo) by hard-linking
// the file already present under (srcOrg, srcRepo), falling back to a copy
// on cross-device filesystems. It is idempotent: if the destination already
// exists, it succeeds without touching the file.
func (b *Backend) MountBlob(srcOrg, srcRepo, dstOrg, dstRepo, digest string) error {
	d := ocidigest.StripAlgo(digest)
	src := b.blobPath(srcOrg, srcRepo, d)
	if _, err := os.Stat(src); err != nil {
		return ErrNotFound
	}
	dst := b.blobPath(dstOrg, dstRepo, d)
	if _, err := os.Stat(dst); err == nil {
		return nil
	}
	if err := os.MkdirAll(b.blobDir(dstOrg, dstRepo), 0o755); err != nil {
		return fmt.Errorf("mkdir blob dir: %w", err)
	}
	if err := os.Link(src, dst); err != nil {
		return copyFile(src, dst)
	}
	return nil
}

// InitUpload creates an empty upload session file for uuid.
func (b *Backend) InitUpload(org, repo, uuid string) error {
	if err := os.MkdirAll(b.uploadDir(org, repo), 0o755); err != nil {
		return fmt.Errorf("mkdir upload dir: %w", err)
	}
	f, err := os.Create(b.uploadPath(org, repo, uuid))
	if err != nil {
		return fmt.Errorf("create upload session: %w", err)
	}
	return f.Close()
}

// AppendUpload appends chunk to the session's accumulated bytes, returning
// the new total length.
func (b *Backend) AppendUpload(org, repo, uuid string, chunk []byte) (int64, error) {
	f, err := os.OpenFile(b.uploadPath(org, repo, uuid), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, notFoundOr(err)
	}
	defer f.Close()
	if _, err := f.Write(chunk); err != nil {
		return 0, fmt.Errorf("append upload chunk: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat upload session: %w", err)
	}
	return fi.Size(), nil
}

// FinalizeUpload compares digest(accumulated bytes) to
// strip_algo(expectedDigest); on match it moves the session file into the
// blob store and returns the computed digest. On mismatch it returns
// ErrDigestMismatch and leaves the session file in place for the caller to
// remove with DeleteUpload.
func (b *Backend) FinalizeUpload(org, repo, uuid, expectedDigest string) (string, error) {
	path := b.uploadPath(org, repo, uuid)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", notFoundOr(err)
	}
	d := ocidigest.Compute(data)
	if d != ocidigest.StripAlgo(expectedDigest) {
		return "", ErrDigestMismatch
	}
	if err := os.MkdirAll(b.blobDir(org, repo), 0o755); err != nil {
		return "", fmt.Errorf("mkdir blob dir: %w", err)
	}
	dst := b.blobPath(org, repo, d)
	if err := os.Rename(path, dst); err != nil {
		// cross-device: fall back to copy-then-remove.
		if err := copyFile(path, dst); err != nil {
			return "", err
		}
		os.Remove(path)
	}
	return d, nil
}

// DeleteUpload removes the session file for uuid.
func (b *Backend) DeleteUpload(org, repo, uuid string) error {
	err := os.Remove(b.uploadPath(org, repo, uuid))
	if err != nil {
		return notFoundOr(err)
	}
	return nil
}

// ReadManifest returns the byte contents stored under reference.
func (b *Backend) ReadManifest(org, repo, reference string) ([]byte, error) {
	data, err := os.ReadFile(b.manifestPath(org, repo, reference))
	if err != nil {
		return nil, notFoundOr(err)
	}
	return data, nil
}

// ManifestExists reports whether reference resolves to a stored manifest.
func (b *Backend) ManifestExists(org, repo, reference string) bool {
	_, err := os.Stat(b.manifestPath(org, repo, reference))
	return err == nil
}

// WriteManifest writes body under reference, creating parent directories as
// needed.
func (b *Backend) WriteManifest(org, repo, reference string, body []byte) error {
	if err := os.MkdirAll(b.manifestDir(org, repo), 0o755); err != nil {
		return fmt.Errorf("mkdir manifest dir: %w", err)
	}
	return atomicWrite(b.manifestPath(org, repo, reference), body)
}

// DeleteManifest removes the manifest stored under reference.
func (b *Backend) DeleteManifest(org, repo, reference string) error {
	err := os.Remove(b.manifestPath(org, repo, reference))
	if err != nil {
		return notFoundOr(err)
	}
	return nil
}

// ListTags returns the sorted list of entries under manifests/org/repo whose
// name does not begin with "sha256:". A missing repository directory yields
// an empty list, not an error.
func (b *Backend) ListTags(org, repo string) ([]string, error) {
	entries, err := os.ReadDir(b.manifestDir(org, repo))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read manifest dir: %w", err)
	}
	tags := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "sha256:") {
			continue
		}
		tags = append(tags, e.Name())
	}
	sort.Strings(tags)
	return tags, nil
}

// Entry describes one file discovered by a Walk* call: its (org, repo)
// partition, its file name (a digest or a reference), size, and modification
// time.
type Entry struct {
	Org, Repo string
	Name      string
	Path      string
	Size      int64
	ModTime   time.Time
}

func walkPartitioned(root string) ([]Entry, error) {
	var out []Entry
	orgs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	for _, orgEnt := range orgs {
		if !orgEnt.IsDir() {
			continue
		}
		orgPath := filepath.Join(root, orgEnt.Name())
		repos, err := os.ReadDir(orgPath)
		if err != nil {
			continue
		}
		for _, repoEnt := range repos {
			if !repoEnt.IsDir() {
				continue
			}
			repoPath := filepath.Join(orgPath, repoEnt.Name())
			files, err := os.ReadDir(repoPath)
			if err != nil {
				continue
			}
			for _, f := range files {
				if f.IsDir() {
					continue
				}
				fi, err := f.Info()
				if err != nil {
					continue
				}
				out = append(out, Entry{
					Org:     orgEnt.Name(),
					Repo:    repoEnt.Name(),
					Name:    f.Name(),
					Path:    filepath.Join(repoPath, f.Name()),
					Size:    fi.Size(),
					ModTime: fi.ModTime(),
				})
			}
		}
	}
	return out, nil
}

// WalkBlobs returns every file under blobs/*/*/*.
func (b *Backend) WalkBlobs() ([]Entry, error) {
	return walkPartitioned(filepath.Join(b.Root, "blobs"))
}

// WalkManifests returns every file under manifests/*/*/*.
func (b *Backend) WalkManifests() ([]Entry, error) {
	return walkPartitioned(filepath.Join(b.Root, "manifests"))
}

// WalkUploads returns every file under uploads/*/*/*.
func (b *Backend) WalkUploads() ([]Entry, error) {
	return walkPartitioned(filepath.Join(b.Root, "uploads"))
}

// DeleteBlobFile removes a blob file by its absolute path, as discovered by
// WalkBlobs. Used by the garbage collector's sweep phase.
func (b *Backend) DeleteBlobFile(path string) error {
	return os.Remove(path)
}

// DeleteUploadFile removes an upload session file by its absolute path, as
// discovered by WalkUploads.
func (b *Backend) DeleteUploadFile(path string) error {
	return os.Remove(path)
}

func notFoundOr(err error) error {
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	return err
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source for copy: %w", err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination for copy: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy blob: %w", err)
	}
	return nil
}
