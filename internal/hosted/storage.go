package hosted

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	storage_go "github.com/supabase-community/storage-go"

	"github.com/sakif/course-portal/internal/storage"
)

// Storage implements storage.ObjectStorage on the hosted storage API.
//
// storage-go sends through its own transport, so uploads cannot be
// cancelled once started; Upload only checks ctx before sending.
type Storage struct {
	c      *Client
	public *storage_go.Client
}

var _ storage.ObjectStorage = (*Storage)(nil)

func NewStorage(c *Client) *Storage {
	return &Storage{
		c:      c,
		public: storage_go.NewClient(c.baseURL+"/storage/v1", c.apiKey, map[string]string{"apikey": c.apiKey}),
	}
}

// Upload stores data as the caller in ctx. The client is built per call
// because storage-go keeps upload options in the client's own headers.
func (s *Storage) Upload(ctx context.Context, bucket, objectPath string, data []byte, opts storage.UploadOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	upsert := opts.Overwrite

	sc := storage_go.NewClient(s.c.baseURL+"/storage/v1", s.c.bearer(ctx, ""), map[string]string{"apikey": s.c.apiKey})
	_, err := sc.UploadFile(bucket, escapeSegments(objectPath), bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err == nil {
		return nil
	}
	if isDuplicate(err) {
		return storage.ErrObjectExists
	}
	return fmt.Errorf("hosted: uploading %s/%s: %w", bucket, objectPath, storageError(err))
}

func (s *Storage) PublicURL(bucket, objectPath string) string {
	return s.public.GetPublicUrl(escapeSegments(bucket), escapeSegments(objectPath)).SignedURL
}

// storageError turns storage-go's error into an *APIError. The storage API
// sends its status as a string field the library does not decode, so a
// missing status is left at zero.
func storageError(err error) error {
	var se *storage_go.StorageError
	if errors.As(err, &se) {
		return &APIError{Status: se.Status, Message: se.Message}
	}
	return err
}

// isDuplicate recognises the storage API's "already exists" answer, which
// arrives as 409 or as 400 with a Duplicate error.
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var se *storage_go.StorageError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists")
}

func escapeSegments(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}
