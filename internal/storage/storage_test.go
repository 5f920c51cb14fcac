package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPaths(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	assert.Equal(t, "thumbnails/u1-1700000000123.png", ThumbnailPath("u1", "Cover.PNG", now))
	assert.Equal(t, "u1/avatar.jpg", AvatarPath("u1", "me.jpg"))
	assert.Equal(t, "c1/1700000000123-week_1_notes.pdf", ResourcePath("c1", "week 1 notes.pdf", now))
	assert.Equal(t, "c1/1700000000123-passwd", ResourcePath("c1", "../../etc/passwd", now))
}

func TestExt(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"photo.JPG", "jpg"},
		{"archive.tar.gz", "gz"},
		{"README", "bin"},
		{"", "bin"},
		{`C:\Users\ada\pic.png`, "png"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Ext(tt.in), tt.in)
	}
}

func TestValidKey(t *testing.T) {
	tests := []struct {
		bucket, path string
		ok           bool
	}{
		{"avatars", "u1/avatar.png", true},
		{"", "u1/avatar.png", false},
		{"a/b", "x", false},
		{"avatars", "", false},
		{"avatars", "/abs", false},
		{"avatars", "u1/../../x", false},
		{"avatars", "u1//x", false},
	}
	for _, tt := range tests {
		err := validKey(tt.bucket, tt.path)
		if tt.ok {
			assert.NoError(t, err, "%s/%s", tt.bucket, tt.path)
		} else {
			assert.Error(t, err, "%s/%s", tt.bucket, tt.path)
		}
	}
}

func TestLocalStorage_Upload(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStorage(dir, "/uploads/", zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, BucketAvatars, "u1/avatar.png", []byte("one"), UploadOptions{}))

	got, err := os.ReadFile(filepath.Join(dir, "avatars", "u1", "avatar.png"))
	require.NoError(t, err)
	assert.Equal(t, "one", string(got))

	err = s.Upload(ctx, BucketAvatars, "u1/avatar.png", []byte("two"), UploadOptions{})
	assert.ErrorIs(t, err, ErrObjectExists)

	require.NoError(t, s.Upload(ctx, BucketAvatars, "u1/avatar.png", []byte("two"), UploadOptions{Overwrite: true}))
	got, err = os.ReadFile(filepath.Join(dir, "avatars", "u1", "avatar.png"))
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	assert.Equal(t, "/uploads/avatars/u1/avatar.png", s.PublicURL(BucketAvatars, "u1/avatar.png"))
	assert.Equal(t, "/uploads/lesson-resources/c1/1-a%20b.pdf", s.PublicURL(BucketResources, "c1/1-a b.pdf"))
}

func TestLocalStorage_RejectsEscapingPaths(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "/uploads", zap.NewNop())
	require.NoError(t, err)

	err = s.Upload(context.Background(), BucketAvatars, "../outside.txt", []byte("x"), UploadOptions{})
	assert.Error(t, err)
}

func TestLocalStorage_CancelledContext(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir(), "/uploads", zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = s.Upload(ctx, BucketAvatars, "u1/avatar.png", []byte("x"), UploadOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeS3 is a minimal path-style S3 endpoint supporting HEAD and PUT.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
	puts    int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = string(body)
		f.types[key] = r.Header.Get("Content-Type")
		f.puts++
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newS3Fixture(t *testing.T) (*S3Storage, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewS3Storage(context.Background(), S3Config{
		Endpoint:     srv.URL,
		Region:       "us-east-1",
		AccessKey:    "test-key",
		SecretKey:    "test-secret",
		UsePathStyle: true,
	}, zap.NewNop())
	require.NoError(t, err)
	return s, fake
}

func TestS3Storage_Upload(t *testing.T) {
	s, fake := newS3Fixture(t)
	ctx := context.Background()

	err := s.Upload(ctx, BucketThumbnails, "thumbnails/u1-1.png", []byte("image-bytes"), UploadOptions{ContentType: "image/png"})
	require.NoError(t, err)

	fake.mu.Lock()
	assert.Contains(t, fake.objects["course-thumbnails/thumbnails/u1-1.png"], "image-bytes")
	assert.Equal(t, "image/png", fake.types["course-thumbnails/thumbnails/u1-1.png"])
	fake.mu.Unlock()

	err = s.Upload(ctx, BucketThumbnails, "thumbnails/u1-1.png", []byte("again"), UploadOptions{})
	assert.ErrorIs(t, err, ErrObjectExists)

	require.NoError(t, s.Upload(ctx, BucketThumbnails, "thumbnails/u1-1.png", []byte("again"), UploadOptions{Overwrite: true}))
	fake.mu.Lock()
	assert.Equal(t, 2, fake.puts)
	fake.mu.Unlock()
}

func TestNewS3Storage_Validation(t *testing.T) {
	_, err := NewS3Storage(context.Background(), S3Config{SecretKey: "s"}, zap.NewNop())
	assert.ErrorContains(t, err, "access key is required")

	_, err = NewS3Storage(context.Background(), S3Config{AccessKey: "a"}, zap.NewNop())
	assert.ErrorContains(t, err, "secret key is required")
}

func TestS3Storage_PublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  S3Config
		want string
	}{
		{
			name: "path style",
			cfg:  S3Config{Endpoint: "http://localhost:9000", UsePathStyle: true},
			want: "http://localhost:9000/avatars/u1/avatar.png",
		},
		{
			name: "virtual hosted",
			cfg:  S3Config{Endpoint: "https://s3.us-east-1.amazonaws.com"},
			want: "https://avatars.s3.us-east-1.amazonaws.com/u1/avatar.png",
		},
		{
			name: "public base url",
			cfg:  S3Config{Endpoint: "http://minio:9000", PublicBaseURL: "https://cdn.example.com/"},
			want: "https://cdn.example.com/avatars/u1/avatar.png",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.AccessKey, tt.cfg.SecretKey = "a", "s"
			s, err := NewS3Storage(context.Background(), tt.cfg, zap.NewNop())
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.PublicURL(BucketAvatars, "u1/avatar.png"))
		})
	}
}
