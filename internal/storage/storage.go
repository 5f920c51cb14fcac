// Package storage is the object storage collaborator: uploads into named
// buckets and public URLs for what was uploaded.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

const (
	BucketThumbnails = "course-thumbnails"
	BucketAvatars    = "avatars"
	BucketResources  = "lesson-resources"
)

// ErrObjectExists is returned by Upload when the path is taken and
// overwriting was not requested.
var ErrObjectExists = errors.New("storage: object already exists")

// UploadOptions controls a single upload.
type UploadOptions struct {
	Overwrite   bool
	ContentType string
}

// ObjectStorage stores objects and hands out their public URLs. A URL is
// assumed to resolve for as long as the object exists.
type ObjectStorage interface {
	Upload(ctx context.Context, bucket, objectPath string, data []byte, opts UploadOptions) error
	PublicURL(bucket, objectPath string) string
}

// ThumbnailPath is where a course image uploaded by userID is stored.
func ThumbnailPath(userID, filename string, now time.Time) string {
	return fmt.Sprintf("thumbnails/%s-%d.%s", userID, now.UnixMilli(), Ext(filename))
}

// AvatarPath is the single, overwritten avatar location for userID.
func AvatarPath(userID, filename string) string {
	return fmt.Sprintf("%s/avatar.%s", userID, Ext(filename))
}

// ResourcePath is where a lesson resource for courseID is stored.
func ResourcePath(courseID, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%d-%s", courseID, now.UnixMilli(), cleanName(filename))
}

// Ext returns the lower-cased extension of filename without the dot, or
// "bin" when it has none.
func Ext(filename string) string {
	ext := strings.TrimPrefix(path.Ext(cleanName(filename)), ".")
	if ext == "" {
		return "bin"
	}
	return strings.ToLower(ext)
}

// cleanName keeps only the base name and replaces characters that do not
// belong in an object key.
func cleanName(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	name := path.Base(filename)
	if name == "." || name == "/" || name == ".." {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		}
		return '_'
	}, name)
}

// validKey rejects keys that could escape their bucket.
func validKey(bucket, objectPath string) error {
	if bucket == "" || strings.ContainsAny(bucket, "/\\") || bucket == "." || bucket == ".." {
		return fmt.Errorf("storage: invalid bucket %q", bucket)
	}
	if objectPath == "" || strings.HasPrefix(objectPath, "/") {
		return fmt.Errorf("storage: invalid object path %q", objectPath)
	}
	for _, seg := range strings.Split(objectPath, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("storage: invalid object path %q", objectPath)
		}
	}
	return nil
}

// escapePath escapes each segment of objectPath for use in a URL.
func escapePath(objectPath string) string {
	segs := strings.Split(objectPath, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
