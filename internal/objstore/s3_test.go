package objstore

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-photos/internal/logging"
)

// fakeS3 understands the path-style object requests the store issues.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deletes int
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/photos/")
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(data)
	case http.MethodDelete:
		f.deletes++
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestS3(t *testing.T) (*S3, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: make(map[string][]byte), types: make(map[string]string)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3(context.Background(), S3Options{
		Bucket:          "photos",
		Region:          "us-east-1",
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		Endpoint:        srv.URL,
		UsePathStyle:    true,
		PresignTTL:      time.Minute,
	}, logging.Discard())
	require.NoError(t, err)
	return store, fake
}

func TestS3PutGetViaPresignedURLs(t *testing.T) {
	ctx := context.Background()
	store, fake := newTestS3(t)

	require.NoError(t, store.Put(ctx, "images/one", []byte("jpeg-bytes"), "image/jpeg"))
	assert.Equal(t, []byte("jpeg-bytes"), fake.objects["images/one"])
	assert.Equal(t, "image/jpeg", fake.types["images/one"])

	got, err := store.Get(ctx, "images/one")
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-bytes"), got)
}

func TestS3GetMissing(t *testing.T) {
	store, _ := newTestS3(t)
	_, err := store.Get(context.Background(), "images/missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestS3PresignGetIsSigned(t *testing.T) {
	store, _ := newTestS3(t)
	url, err := store.PresignGet(context.Background(), "images/one")
	require.NoError(t, err)
	assert.Contains(t, url, "/photos/images/one")
	assert.Contains(t, url, "X-Amz-Signature=")
}

func TestS3DeleteMissingSucceeds(t *testing.T) {
	ctx := context.Background()
	store, fake := newTestS3(t)

	require.NoError(t, store.Delete(ctx, "images/none"))
	require.NoError(t, store.Delete(ctx, "images/none"))
	assert.Equal(t, 2, fake.deletes)
}
