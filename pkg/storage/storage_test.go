package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-registration-api/pkg/config"
)

func TestBuildObjectKey(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	key := BuildObjectKey("/course-files/", "c1", "Week 1 Slides (Final).PDF", now)
	assert.True(t, strings.HasPrefix(key, "course-files/c1/week-1-slides-final_20240301_103000_"), key)
	assert.True(t, strings.HasSuffix(key, ".pdf"))

	key = BuildObjectKey("", "", "???.txt", now)
	assert.True(t, strings.HasPrefix(key, "file_20240301_103000_"), key)
}

func TestLocalObjectStoreRoundTrip(t *testing.T) {
	files, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	store := NewLocalObjectStore(files, NewSignedURLSigner("secret", time.Hour), "/api/files/")

	obj, err := store.Put(context.Background(), "c1/notes.txt", strings.NewReader("hello"), 5, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, int64(5), obj.Size)
	assert.Equal(t, config.StorageDriverLocal, store.Driver())

	url, err := store.ResolveURL(obj.Key, obj.URL)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "/api/files/"))

	file, key, err := store.OpenSigned(strings.TrimPrefix(url, "/api/files/"))
	require.NoError(t, err)
	body, _ := io.ReadAll(file)
	file.Close()
	assert.Equal(t, "c1/notes.txt", key)
	assert.Equal(t, "hello", string(body))

	require.NoError(t, store.Delete(context.Background(), obj.Key))
	require.NoError(t, store.Delete(context.Background(), obj.Key))
	_, _, err = store.OpenSigned(strings.TrimPrefix(url, "/api/files/"))
	assert.Error(t, err)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	files, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	_, err = files.SaveStream("../escape.txt", strings.NewReader("x"))
	assert.Error(t, err)
	_, err = files.Open("/etc/passwd")
	assert.Error(t, err)
}

type fakeBucket struct {
	putKey  string
	body    string
	deleted []string
	putErr  error
	delErr  error
}

func (b *fakeBucket) PutObject(key string, r io.Reader, _ ...oss.Option) error {
	if b.putErr != nil {
		return b.putErr
	}
	data, _ := io.ReadAll(r)
	b.putKey, b.body = key, string(data)
	return nil
}

func (b *fakeBucket) DeleteObject(key string, _ ...oss.Option) error {
	if b.delErr != nil {
		return b.delErr
	}
	b.deleted = append(b.deleted, key)
	return nil
}

func TestOSSStore(t *testing.T) {
	bucket := &fakeBucket{}
	store := newOSSStore(bucket, OSSConfig{Endpoint: "https://oss-ap-southeast-5.aliyuncs.com", Bucket: "courses"})

	obj, err := store.Put(context.Background(), "course-files/c1/a.pdf", strings.NewReader("pdf"), 3, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "course-files/c1/a.pdf", bucket.putKey)
	assert.Equal(t, "https://courses.oss-ap-southeast-5.aliyuncs.com/course-files/c1/a.pdf", obj.URL)

	require.NoError(t, store.Delete(context.Background(), obj.Key))
	assert.Equal(t, []string{"course-files/c1/a.pdf"}, bucket.deleted)

	bucket.delErr = oss.ServiceError{StatusCode: http.StatusNotFound}
	assert.NoError(t, store.Delete(context.Background(), "gone"))

	bucket.putErr = errors.New("network down")
	_, err = store.Put(context.Background(), "x", strings.NewReader(""), 0, "text/plain")
	assert.Error(t, err)

	withBase := newOSSStore(bucket, OSSConfig{Bucket: "courses", PublicBase: "https://cdn.example.com/"})
	assert.Equal(t, "https://cdn.example.com/k", withBase.PublicURL("k"))
}

func TestCloudinaryStore(t *testing.T) {
	var uploadForm, destroyForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/demo/auto/upload":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			uploadForm = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				uploadForm[k] = v[0]
			}
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"public_id":     uploadForm["public_id"],
				"secure_url":    "https://res.cloudinary.com/demo/raw/upload/v1/" + uploadForm["public_id"],
				"bytes":         4,
				"resource_type": "raw",
			})
		case "/demo/raw/destroy":
			require.NoError(t, r.ParseForm())
			destroyForm = map[string]string{"public_id": r.PostForm.Get("public_id"), "signature": r.PostForm.Get("signature")}
			_ = json.NewEncoder(w).Encode(map[string]string{"result": "ok"})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"message":"unknown"}}`))
		}
	}))
	defer srv.Close()

	store, err := NewCloudinaryStore(CloudinaryConfig{CloudName: "demo", APIKey: "key", APISecret: "secret", BaseURL: srv.URL})
	require.NoError(t, err)
	store.now = func() time.Time { return time.Unix(1700000000, 0) }

	obj, err := store.Put(context.Background(), "course-files/c1/a.pdf", strings.NewReader("data"), 4, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "raw/course-files/c1/a", obj.Key)
	assert.Equal(t, "course-files/c1/a", uploadForm["public_id"])
	assert.Equal(t, "key", uploadForm["api_key"])
	assert.Len(t, uploadForm["signature"], 40)

	url, err := store.ResolveURL(obj.Key, obj.URL)
	require.NoError(t, err)
	assert.Equal(t, obj.URL, url)

	require.NoError(t, store.Delete(context.Background(), obj.Key))
	assert.Equal(t, "course-files/c1/a", destroyForm["public_id"])

	assert.Error(t, store.Delete(context.Background(), "no-slash"))
}

func TestNewRejectsIncompleteDrivers(t *testing.T) {
	_, err := New(config.FilesConfig{Driver: config.StorageDriverOSS}, "/api/files")
	assert.Error(t, err)
	_, err = New(config.FilesConfig{Driver: config.StorageDriverCloudinary}, "/api/files")
	assert.Error(t, err)
	_, err = New(config.FilesConfig{Driver: "ftp"}, "/api/files")
	assert.Error(t, err)

	store, err := New(config.FilesConfig{Driver: config.StorageDriverLocal, LocalDir: t.TempDir(), SignedURLSecret: "s"}, "/api/files")
	require.NoError(t, err)
	assert.Equal(t, config.StorageDriverLocal, store.Driver())
}
