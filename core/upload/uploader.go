// Package upload publishes finished archives to a share service and returns a link.
package upload

import (
	"context"
	"errors"
)

// MaxArchiveSize is the largest file the share service accepts.
const MaxArchiveSize int64 = 2 * 1024 * 1024 * 1024

// Uploader publishes one file and returns a public link to it.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Error is a rejection reported by the share service itself.
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return "upload rejected: " + e.Message
}

// ErrEmptyLink is returned when the service reports success without a link.
var ErrEmptyLink = errors.New("upload succeeded without a link")
