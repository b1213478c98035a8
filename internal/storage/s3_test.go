package storage

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func testS3Config(endpoint string) S3Config {
	return S3Config{
		Bucket:          "test-bucket",
		Region:          "us-east-1",
		Endpoint:        endpoint,
		AccessKeyID:     "test-access-key",
		SecretAccessKey: "test-secret-key",
	}
}

func TestNewS3Store(t *testing.T) {
	store, err := NewS3Store(t.TempDir(), testS3Config("http://localhost:4566"))
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}

	if store.bucket != "test-bucket" {
		t.Errorf("bucket = %v, want test-bucket", store.bucket)
	}
	if store.region != "us-east-1" {
		t.Errorf("region = %v, want us-east-1", store.region)
	}
}

func TestS3Store_InheritsLocalStore(t *testing.T) {
	store, err := NewS3Store(t.TempDir(), testS3Config("http://localhost:4566"))
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}
	ctx := context.Background()

	// Session file handling stays on local disk.
	if _, err := store.CreateSession(ctx, "abc123"); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := store.RemoveSession(ctx, "abc123"); err != nil {
		t.Fatalf("RemoveSession() error = %v", err)
	}
}

func TestS3Store_UploadArchive_MockServer(t *testing.T) {
	var gotPath string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT method, got %s", r.Method)
		}
		gotPath = r.URL.Path
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		gotBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	store, err := NewS3Store(t.TempDir(), testS3Config(server.URL))
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}

	url, err := store.UploadArchive(context.Background(), "abc123/song_segments.zip", bytes.NewReader([]byte("zip content")))
	if err != nil {
		t.Fatalf("UploadArchive() error = %v", err)
	}

	if !strings.Contains(gotPath, "song_segments.zip") {
		t.Errorf("unexpected request path: %s", gotPath)
	}
	if !bytes.Contains(gotBody, []byte("zip content")) {
		t.Errorf("body does not contain uploaded content")
	}
	want := "https://test-bucket.s3.us-east-1.amazonaws.com/abc123/song_segments.zip"
	if url != want {
		t.Errorf("url = %s, want %s", url, want)
	}
}

func TestS3Store_UploadArchive_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store, err := NewS3Store(t.TempDir(), testS3Config(server.URL))
	if err != nil {
		t.Fatalf("NewS3Store() error = %v", err)
	}

	_, err = store.UploadArchive(context.Background(), "key", bytes.NewReader([]byte("x")))
	if err == nil {
		t.Error("expected error from failing S3 endpoint")
	}
}
