// Package blob stores image bytes. Objects are addressed by owner and image
// id; the object name is image-<id>.jpg inside the owner's prefix.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

var ErrNotFound = errors.New("blob not found")

// Store is implemented by every storage backend.
type Store interface {
	Put(ctx context.Context, userID uint, imageID string, body io.ReadSeeker, contentType string) error
	Open(ctx context.Context, userID uint, imageID string) (*Object, error)
	// Delete is a no-op for objects that do not exist.
	Delete(ctx context.Context, userID uint, imageID string) error
	URI(userID uint, imageID string) string
}

// Object is an open blob. Callers must close Body.
type Object struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

func Name(imageID string) string {
	return "image-" + imageID + ".jpg"
}

// Key is the provider independent object key.
func Key(userID uint, imageID string) string {
	return fmt.Sprintf("images/%d/%s", userID, Name(imageID))
}

// FileRoute is the application route that streams a blob.
func FileRoute(userID uint, imageID string) string {
	return fmt.Sprintf("/Images/File/%d/%s", userID, url.PathEscape(imageID))
}

// CleanURL escapes spaces and normalises urlStr, returning it unchanged
// when it does not parse.
func CleanURL(urlStr string) string {
	urlStr = strings.ReplaceAll(urlStr, " ", "%20")
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return urlStr
	}
	return parsedURL.String()
}
