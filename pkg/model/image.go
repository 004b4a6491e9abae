package model

import "time"

// Image represents an image attached to exactly one assessment. Images are
// deleted when their assessment is deleted; the image payload itself lives
// in blob storage and is referenced by BlobKey.
type Image struct {
	ID           string    `json:"id"`
	AssessmentID string    `json:"assessment_id"`
	Caption      string    `json:"caption,omitempty"`
	BlobKey      string    `json:"blob_key"`
	CreatedAt    time.Time `json:"created_at"`
}

// Clone returns an independent copy of the image.
func (i *Image) Clone() *Image {
	c := *i
	return &c
}
