package service

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/sakif/course-portal/internal/apperror"
)

const (
	MaxImageBytes    = 5 << 20
	MaxResourceBytes = 20 << 20
)

// Upload is a file received from a form. A nil *Upload means no file was
// chosen.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// contentType returns the declared type, sniffing the data when the
// browser sent none or only the generic octet-stream.
func (u *Upload) contentType() string {
	if ct := strings.TrimSpace(u.ContentType); ct != "" && ct != "application/octet-stream" {
		return ct
	}
	return mimetype.Detect(u.Data).String()
}

func checkUpload(u *Upload, field string, maxBytes int, imagesOnly bool) error {
	if len(u.Data) == 0 {
		return apperror.ValidationFailed(field, "The selected file is empty.")
	}
	if len(u.Data) > maxBytes {
		return apperror.ValidationFailed(field, fmt.Sprintf("Files must be %d MB or smaller.", maxBytes>>20))
	}
	if imagesOnly && !strings.HasPrefix(u.contentType(), "image/") {
		return apperror.ValidationFailed(field, "Please choose an image file.")
	}
	return nil
}
