package s3images

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(context.Background(), Config{AccessKey: "a", SecretKey: "b"})
	require.Error(t, err)

	_, err = New(context.Background(), Config{Bucket: "photos"})
	require.Error(t, err)

	s, err := New(context.Background(), Config{Bucket: "photos", AccessKey: "a", SecretKey: "b", Endpoint: "minio:9000"})
	require.NoError(t, err)
	require.Equal(t, "http://minio:9000/photos", s.baseURL)

	s, err = New(context.Background(), Config{Bucket: "photos", AccessKey: "a", SecretKey: "b", PublicBaseURL: "https://cdn.example.com/"})
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com", s.baseURL)
}

func TestPut_PathStyleUpload(t *testing.T) {
	var mu sync.Mutex
	var gotMethod, gotPath, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotMethod, gotPath, gotType, gotBody = r.Method, r.URL.Path, r.Header.Get("Content-Type"), string(b)
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := New(context.Background(), Config{Endpoint: srv.URL, Bucket: "photos", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)

	ref, err := s.Put(context.Background(), "/shipments/7/nobody-home.jpg", "image/jpeg", []byte("jpeg-bytes"))
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/photos/shipments/7/nobody-home.jpg", ref)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, http.MethodPut, gotMethod)
	require.Equal(t, "/photos/shipments/7/nobody-home.jpg", gotPath)
	require.Equal(t, "image/jpeg", gotType)
	require.True(t, strings.Contains(gotBody, "jpeg-bytes"))
}

func TestPut_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
	}))
	defer srv.Close()

	s, err := New(context.Background(), Config{Endpoint: srv.URL, Bucket: "photos", AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "k.jpg", "", []byte("x"))
	require.Error(t, err)

	_, err = s.Put(context.Background(), "", "", []byte("x"))
	require.Error(t, err)
}
