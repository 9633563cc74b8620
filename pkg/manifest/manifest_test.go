package manifest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDigest(b byte) string {
	h := make([]byte, 64)
	for i := range h {
		h[i] = b
	}
	return "sha256:" + string(h)
}

func imageManifestJSON(schemaVersion int, mediaType string) string {
	return fmt.Sprintf(`{
		"schemaVersion": %d,
		"mediaType": %q,
		"config": {"mediaType":"application/vnd.oci.image.config.v1+json","size":100,"digest":%q},
		"layers": [{"mediaType":"application/vnd.oci.image.layer.v1.tar+gzip","size":200,"digest":%q}]
	}`, schemaVersion, mediaType, validDigest('a'), validDigest('b'))
}

func TestValidateImageManifestExplicitMediaType(t *testing.T) {
	res, err := Validate([]byte(imageManifestJSON(2, "application/vnd.oci.image.manifest.v1+json")))
	require.NoError(t, err)
	assert.Equal(t, KindImageManifest, res.Kind)
}

func TestValidateInferredImageManifest(t *testing.T) {
	res, err := Validate([]byte(imageManifestJSON(2, "")))
	require.NoError(t, err)
	assert.Equal(t, KindImageManifest, res.Kind)
	assert.Equal(t, "application/vnd.oci.image.manifest.v1+json", res.MediaType)
}

func TestValidateImageIndex(t *testing.T) {
	body := fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": "application/vnd.oci.image.index.v1+json",
		"manifests": [{"mediaType":"application/vnd.oci.image.manifest.v1+json","size":300,"digest":%q}]
	}`, validDigest('c'))
	res, err := Validate([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, KindImageIndex, res.Kind)
}

func TestValidateSchemaVersion1Rejected(t *testing.T) {
	_, err := Validate([]byte(imageManifestJSON(1, "application/vnd.oci.image.manifest.v1+json")))
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, InvalidSchema, ve.Kind)
}

func TestValidateUnsupportedMediaType(t *testing.T) {
	_, err := Validate([]byte(imageManifestJSON(2, "application/x-nonsense")))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, InvalidMediaType, ve.Kind)
}

func TestValidateMissingLayers(t *testing.T) {
	body := fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": "application/vnd.oci.image.manifest.v1+json",
		"config": {"mediaType":"application/vnd.oci.image.config.v1+json","size":100,"digest":%q},
		"layers": []
	}`, validDigest('a'))
	_, err := Validate([]byte(body))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, MissingRequiredField, ve.Kind)
}

func TestValidateBadDigest(t *testing.T) {
	body := fmt.Sprintf(`{
		"schemaVersion": 2,
		"mediaType": "application/vnd.oci.image.manifest.v1+json",
		"config": {"mediaType":"application/vnd.oci.image.config.v1+json","size":100,"digest":"sha256:short"},
		"layers": [{"mediaType":"application/vnd.oci.image.layer.v1.tar+gzip","size":200,"digest":%q}]
	}`, validDigest('b'))
	_, err := Validate([]byte(body))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, InvalidDigest, ve.Kind)
}

func TestValidateInvalidJSON(t *testing.T) {
	_, err := Validate([]byte(`not json`))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, InvalidJSON, ve.Kind)
}
