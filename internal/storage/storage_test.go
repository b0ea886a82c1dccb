package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "u1/j1/3_lifestyle.png", ObjectKey("u1", "j1", 3, "lifestyle", "image/png"))
	assert.Equal(t, "u1/j1/0_video.mp4", ObjectKey("u1", "j1", 0, "video", "video/mp4"))
	assert.Equal(t, "jpg", ExtensionFor("image/jpeg; charset=binary"))
	assert.Equal(t, "bin", ExtensionFor("application/x-unknown"))
}

func TestFileStorePut(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir, "http://localhost:8080/static/")
	require.NoError(t, err)

	url, err := fs.Put(context.Background(), "/u1/j1/0_cover.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/static/u1/j1/0_cover.png", url)

	data, err := os.ReadFile(filepath.Join(dir, "u1", "j1", "0_cover.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
	leftovers, err := filepath.Glob(filepath.Join(dir, "u1", "j1", ".*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	url, err = fs.Put(context.Background(), "u1/j1/0_cover.png", []byte("png2"), "image/png")
	require.NoError(t, err)
	data, err = os.ReadFile(filepath.Join(dir, "u1", "j1", "0_cover.png"))
	require.NoError(t, err)
	assert.Equal(t, "png2", string(data))
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "http://x")
	require.NoError(t, err)
	for _, key := range []string{"", " ", "../etc/passwd", "a/../../b", "..", `..\x`, "/", "a\x00b"} {
		_, err := fs.Put(context.Background(), key, []byte("x"), "text/plain")
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

type fakeS3 struct {
	s3iface.S3API
	input *s3.PutObjectInput
	err   error
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	f.input = in
	return &s3.PutObjectOutput{}, f.err
}

func TestS3StorePut(t *testing.T) {
	fake := &fakeS3{}
	store := newS3Store(fake, S3Options{Bucket: "cards", Region: "eu-central-1"})

	url, err := store.Put(context.Background(), "u1/j1/0_cover.png", []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "https://cards.s3.eu-central-1.amazonaws.com/u1/j1/0_cover.png", url)
	assert.Equal(t, "cards", aws.StringValue(fake.input.Bucket))
	assert.Equal(t, "u1/j1/0_cover.png", aws.StringValue(fake.input.Key))
	assert.Equal(t, "image/png", aws.StringValue(fake.input.ContentType))
}

func TestS3StoreCustomEndpointURL(t *testing.T) {
	store := newS3Store(&fakeS3{}, S3Options{Bucket: "cards", Endpoint: "http://minio:9000/"})
	url, err := store.Put(context.Background(), "k.png", []byte("x"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://minio:9000/cards/k.png", url)
}

type flakyStore struct {
	failures int
	calls    int
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("connection reset")
	}
	return "https://cdn/" + key, nil
}

func TestRetryingRecoversFromTransientFailures(t *testing.T) {
	flaky := &flakyStore{failures: 2}
	r := NewRetrying(flaky, 3, nil)
	r.initial = time.Millisecond

	url, err := r.Put(context.Background(), "k", []byte("x"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/k", url)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingWrapsFinalFailure(t *testing.T) {
	flaky := &flakyStore{failures: 10}
	r := NewRetrying(flaky, 2, nil)
	r.initial = time.Millisecond

	_, err := r.Put(context.Background(), "k", []byte("x"), "text/plain")
	require.ErrorIs(t, err, ErrWrite)
	assert.Equal(t, 3, flaky.calls)
}

func TestRetryingDoesNotRetryInvalidKey(t *testing.T) {
	fs, err := NewFileStore(t.TempDir(), "http://x")
	require.NoError(t, err)
	r := NewRetrying(fs, 5, nil)

	_, err = r.Put(context.Background(), "../x", []byte("x"), "text/plain")
	require.ErrorIs(t, err, ErrWrite)
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestFetcherGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("pngdata"))
		case "/empty":
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), time.Second)
	data, ct, err := f.Get(context.Background(), srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, "pngdata", string(data))
	assert.Equal(t, "image/png", ct)

	_, _, err = f.Get(context.Background(), srv.URL+"/missing")
	require.ErrorIs(t, err, ErrFetch)
	_, _, err = f.Get(context.Background(), srv.URL+"/empty")
	require.ErrorIs(t, err, ErrFetch)
}

func TestFetcherEnforcesSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), time.Second)
	f.maxBytes = 16
	_, _, err := f.Get(context.Background(), srv.URL)
	require.ErrorIs(t, err, ErrFetch)
}
