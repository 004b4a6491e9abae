// Package images stores assessment image payloads in blob storage.
//
// Two backends are provided: a filesystem store for local development
// and an S3 store for production (AWS or MinIO). Both implement
// BlobStore, and both satisfy the mutation gateway's blob cleanup
// interface so deleting an assessment or image removes its payloads.
//
// Blob keys are content addressed: sha256 of the payload, sharded by
// the first two hex characters. Uploading the same image twice yields
// the same key and a single stored object.
package images
