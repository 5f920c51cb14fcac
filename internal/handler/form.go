package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/service"
)

// multipartMemory is how much of a multipart body is kept in memory; the
// rest spills to temporary files.
const multipartMemory = 8 << 20

// parseForm reads a urlencoded or multipart form, capping the body at
// maxBytes.
func parseForm(w http.ResponseWriter, r *http.Request, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperror.ValidationFailed("", fmt.Sprintf("The upload is too large. Requests must be %d MB or smaller.", maxBytes>>20))
	}
	if err != nil {
		return apperror.ValidationFailed("", "The form could not be read. Please try again.")
	}
	return nil
}

// formFile returns the file sent in field, or nil when none was chosen.
func formFile(r *http.Request, field string) (*service.Upload, error) {
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, apperror.ValidationFailed(field, "The file could not be read.")
	}
	defer f.Close()

	if hdr.Filename == "" && hdr.Size == 0 {
		return nil, nil
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperror.ValidationFailed(field, "The file could not be read.")
	}
	return &service.Upload{
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// formValues echoes the named fields back to a re-rendered form.
func formValues(r *http.Request, fields ...string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		out[f] = r.PostFormValue(f)
	}
	return out
}
