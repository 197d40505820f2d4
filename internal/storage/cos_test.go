package storage

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverage-analysis/pkg/config"
)

// fakeBucket serves the subset of the COS object API the archive uses.
// Listings are paged two keys at a time.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	lists   int
}

type listResult struct {
	XMLName     xml.Name `xml:"ListBucketResult"`
	Prefix      string   `xml:"Prefix"`
	IsTruncated bool     `xml:"IsTruncated"`
	NextMarker  string   `xml:"NextMarker,omitempty"`
	Contents    []struct {
		Key string `xml:"Key"`
	} `xml:"Contents"`
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := strings.TrimPrefix(r.URL.Path, "/")
	switch {
	case r.Method == http.MethodGet && key == "":
		b.lists++
		b.list(w, r.URL.Query().Get("prefix"), r.URL.Query().Get("marker"))
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		b.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead || r.Method == http.MethodGet:
		data, ok := b.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Method == http.MethodGet {
			w.Write(data)
		}
	case r.Method == http.MethodDelete:
		delete(b.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (b *fakeBucket) get(key string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[key]
}

func (b *fakeBucket) listCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lists
}

func (b *fakeBucket) list(w http.ResponseWriter, prefix, marker string) {
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) && k > marker {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	res := listResult{Prefix: prefix}
	if len(keys) > 2 {
		keys = keys[:2]
		res.IsTruncated = true
		res.NextMarker = keys[1]
	}
	for _, k := range keys {
		res.Contents = append(res.Contents, struct {
			Key string `xml:"Key"`
		}{Key: k})
	}
	w.Header().Set("Content-Type", "application/xml")
	xml.NewEncoder(w).Encode(res)
}

func newFakeCOS(t *testing.T) (*COSStorage, *fakeBucket) {
	t.Helper()
	bucket := &fakeBucket{objects: make(map[string][]byte)}
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	storage, err := NewCOSStorage(&COSConfig{
		BucketURL: srv.URL,
		SecretID:  "test-id",
		SecretKey: "test-key",
	})
	require.NoError(t, err)
	return storage, bucket
}

func TestNewCOSStorage_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *COSConfig
		wantErr string
	}{
		{"MissingBucket", &COSConfig{Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"}, "bucket and region are required"},
		{"MissingRegion", &COSConfig{Bucket: "b", SecretID: "id", SecretKey: "key"}, "bucket and region are required"},
		{"MissingCredentials", &COSConfig{Bucket: "b", Region: "ap-guangzhou"}, "credentials are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := NewCOSStorage(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, storage)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCOSStorage_GetURL(t *testing.T) {
	storage, err := NewCOSStorage(&COSConfig{
		Bucket:    "my-bucket",
		Region:    "ap-guangzhou",
		SecretID:  "test-id",
		SecretKey: "test-key",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://my-bucket.cos.ap-guangzhou.myqcloud.com/runs/r-1.xml", storage.GetURL("runs/r-1.xml"))
}

func TestCOSStorage_RoundTrip(t *testing.T) {
	storage, bucket := newFakeCOS(t)
	ctx := context.Background()

	require.NoError(t, storage.Upload(ctx, "runs/1/testwise.xml", bytes.NewReader([]byte("<report/>"))))
	assert.Equal(t, []byte("<report/>"), bucket.get("runs/1/testwise.xml"))

	src := filepath.Join(t.TempDir(), "part.json")
	require.NoError(t, os.WriteFile(src, []byte("{}"), 0644))
	require.NoError(t, storage.UploadFile(ctx, "runs/1/testwise-2.json", src))

	rc, err := storage.Download(ctx, "runs/1/testwise.xml")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "<report/>", string(data))

	ok, err := storage.Exists(ctx, "runs/1/testwise.xml")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, storage.Delete(ctx, "runs/1/testwise.xml"))
	ok, err = storage.Exists(ctx, "runs/1/testwise.xml")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCOSStorage_ListPages(t *testing.T) {
	storage, bucket := newFakeCOS(t)
	ctx := context.Background()

	for _, key := range []string{"runs/a-3.xml", "runs/a-1.xml", "runs/a-2.xml", "runs/a-4.xml", "other.txt"} {
		require.NoError(t, storage.Upload(ctx, key, strings.NewReader(key)))
	}

	keys, err := storage.List(ctx, "runs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"runs/a-1.xml", "runs/a-2.xml", "runs/a-3.xml", "runs/a-4.xml"}, keys)
	assert.Equal(t, 2, bucket.listCalls())
}

func TestCOSStorage_DownloadMissing(t *testing.T) {
	storage, _ := newFakeCOS(t)
	_, err := storage.Download(context.Background(), "nope.xml")
	assert.Error(t, err)
}

func TestNewStorage_COS(t *testing.T) {
	storage, err := NewStorage(&config.StorageConfig{
		Type:      "cos",
		Bucket:    "test-bucket",
		Region:    "ap-guangzhou",
		SecretID:  "test-id",
		SecretKey: "test-key",
	})
	require.NoError(t, err)
	_, ok := storage.(*COSStorage)
	assert.True(t, ok)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.StorageConfig
		wantErr string
	}{
		{"NilConfig", nil, "storage config is nil"},
		{"InvalidStorageType", &config.StorageConfig{Type: "s3"}, "unsupported storage type"},
		{"COSMissingBucket", &config.StorageConfig{Type: "cos", Region: "r", SecretID: "i", SecretKey: "k"}, "COS bucket is required"},
		{"COSMissingRegion", &config.StorageConfig{Type: "cos", Bucket: "b", SecretID: "i", SecretKey: "k"}, "COS region is required"},
		{"COSMissingCredentials", &config.StorageConfig{Type: "cos", Bucket: "b", Region: "r"}, "COS credentials are required"},
		{"LocalMissingPath", &config.StorageConfig{Type: "local"}, "local storage path is required"},
		{"ValidCOSConfig", &config.StorageConfig{Type: "cos", Bucket: "b", Region: "r", SecretID: "i", SecretKey: "k"}, ""},
		{"ValidLocalConfig", &config.StorageConfig{Type: "local", LocalPath: "/tmp/storage"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
