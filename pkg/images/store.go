package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// BlobStore persists image payloads keyed by blob key.
type BlobStore interface {
	// Put uploads a payload under the given key.
	Put(ctx context.Context, key string, content io.Reader, contentType string) error

	// PutHashed uploads a payload under its content-addressed key and
	// returns that key. Re-uploading identical content is a no-op.
	PutHashed(ctx context.Context, content []byte, contentType string) (string, error)

	// Get retrieves a payload. Callers must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether a payload is stored under the key.
	Exists(ctx context.Context, key string) (bool, error)

	// DeleteBlobs removes the given payloads. Missing keys are not an
	// error; cleanup must be safe to retry.
	DeleteBlobs(ctx context.Context, keys []string) error

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// BlobKey returns the content-addressed key for a payload:
// images/sha256/<first two hex chars>/<remaining hex chars>.
func BlobKey(content []byte) string {
	hash := sha256.Sum256(content)
	hex := hex.EncodeToString(hash[:])
	return fmt.Sprintf("images/sha256/%s/%s", hex[:2], hex[2:])
}
