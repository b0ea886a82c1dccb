// Package storage persists generated assets and fetches source assets.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrWrite marks a failed durable write. Callers treat it as terminal for the task.
var ErrWrite = errors.New("storage: write failed")

// ErrInvalidKey is returned for empty keys or keys escaping the root.
var ErrInvalidKey = errors.New("storage: invalid key")

// Store writes objects and returns their public URL.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ObjectKey builds the canonical key for one unit's result.
func ObjectKey(userID, jobID string, unitIndex int, unitType, contentType string) string {
	return fmt.Sprintf("%s/%s/%d_%s.%s", userID, jobID, unitIndex, unitType, ExtensionFor(contentType))
}

// ExtensionFor maps a content type to a file extension.
func ExtensionFor(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "video/mp4":
		return "mp4"
	case "text/plain":
		return "txt"
	default:
		return "bin"
	}
}

func publicURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}
