// Package manifest validates manifest and image-index JSON against the
// OCI/Docker schema families, dispatching on mediaType and falling back to
// inference when it is absent. Grounded on original_source/src/validation.rs,
// typed against the upstream github.com/opencontainers/image-spec structs
// rather than the bespoke structs the original hand-rolled.
package manifest

import (
	"encoding/json"
	"fmt"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/registryx/grain/pkg/ocidigest"
)

// Docker media types have no counterpart in image-spec; the wire protocol
// still has to accept them for compatibility with existing clients.
const (
	MediaTypeDockerManifest v1.MediaType = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerIndex    v1.MediaType = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// Kind distinguishes the two validated shapes.
type Kind int

const (
	KindImageManifest Kind = iota
	KindImageIndex
)

// FailureKind enumerates the ways validation can fail, per spec §4.E.
type FailureKind int

const (
	InvalidJSON FailureKind = iota
	InvalidSchema
	InvalidMediaType
	MissingRequiredField
	InvalidDigest
	InvalidSize
)

// ValidationError carries the failure kind and a human-readable message.
type ValidationError struct {
	Kind FailureKind
	Msg  string
}

func (e *ValidationError) Error() string { return e.Msg }

func fail(k FailureKind, format string, args ...interface{}) error {
	return &ValidationError{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Result is the outcome of a successful validation: the kind and the
// effective (possibly inferred) media type.
type Result struct {
	Kind      Kind
	MediaType string
}

// rawEnvelope mirrors just enough of a manifest/index to dispatch and
// inspect top-level fields without fully typing both shapes up front.
type rawEnvelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	MediaType     string          `json:"mediaType"`
	Config        json.RawMessage `json:"config"`
	Layers        json.RawMessage `json:"layers"`
	Manifests     json.RawMessage `json:"manifests"`
}

// Validate parses body and enforces the schema rules of spec §4.E, returning
// the resolved Result or a *ValidationError.
func Validate(body []byte) (*Result, error) {
	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fail(InvalidJSON, "invalid JSON: %v", err)
	}
	if env.SchemaVersion != 2 {
		return nil, fail(InvalidSchema, "schemaVersion must be 2, got %d", env.SchemaVersion)
	}

	switch v1.MediaType(env.MediaType) {
	case v1.MediaTypeImageManifest, MediaTypeDockerManifest:
		return validateImageManifest(body, env.MediaType)
	case v1.MediaTypeImageIndex, MediaTypeDockerIndex:
		return validateImageIndex(body, env.MediaType)
	case "":
		return inferKind(body, env)
	default:
		return nil, fail(InvalidMediaType, "unsupported mediaType %q", env.MediaType)
	}
}

func inferKind(body []byte, env rawEnvelope) (*Result, error) {
	switch {
	case len(env.Config) > 0:
		return validateImageManifest(body, string(v1.MediaTypeImageManifest))
	case len(env.Manifests) > 0:
		return validateImageIndex(body, string(v1.MediaTypeImageIndex))
	default:
		return nil, fail(InvalidSchema, "cannot infer manifest kind: no config or manifests field")
	}
}

func validateImageManifest(body []byte, mediaType string) (*Result, error) {
	var m v1.Manifest
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fail(InvalidJSON, "invalid image manifest JSON: %v", err)
	}
	if m.Config.Digest == "" && m.Config.MediaType == "" {
		return nil, fail(MissingRequiredField, "image manifest missing config descriptor")
	}
	if err := validateDescriptor(m.Config); err != nil {
		return nil, err
	}
	if len(m.Layers) == 0 {
		return nil, fail(MissingRequiredField, "image manifest requires at least one layer")
	}
	for _, l := range m.Layers {
		if err := validateDescriptor(l); err != nil {
			return nil, err
		}
	}
	return &Result{Kind: KindImageManifest, MediaType: mediaType}, nil
}

func validateImageIndex(body []byte, mediaType string) (*Result, error) {
	var idx v1.Index
	if err := json.Unmarshal(body, &idx); err != nil {
		return nil, fail(InvalidJSON, "invalid image index JSON: %v", err)
	}
	if len(idx.Manifests) == 0 {
		return nil, fail(MissingRequiredField, "image index requires at least one manifests entry")
	}
	for _, d := range idx.Manifests {
		if err := validateDescriptor(d); err != nil {
			return nil, err
		}
	}
	return &Result{Kind: KindImageIndex, MediaType: mediaType}, nil
}

func validateDescriptor(d v1.Descriptor) error {
	if d.MediaType == "" {
		return fail(MissingRequiredField, "descriptor missing mediaType")
	}
	if d.Size <= 0 {
		return fail(InvalidSize, "descriptor size must be > 0, got %d", d.Size)
	}
	if !ocidigest.ValidDigest(string(d.Digest)) {
		return fail(InvalidDigest, "descriptor digest %q is not a valid sha256/sha512 digest", d.Digest)
	}
	return nil
}
