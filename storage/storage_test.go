package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docutag/shopscraper/models"
)

func testPage(url string) models.RawPage {
	return models.RawPage{
		URL:       url,
		SourceID:  "expert",
		Content:   []byte("<html><body><div class=\"product\">Phone</div></body></html>"),
		FetchedAt: time.Date(2024, 3, 9, 10, 0, 0, 0, time.UTC),
	}
}

// TestNewS3Storage tests creating S3 storage with valid config
func TestNewS3Storage(t *testing.T) {
	config := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}

	ctx := context.Background()
	storage, err := NewS3Storage(ctx, config)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	if storage == nil {
		t.Fatal("Expected storage to be non-nil")
	}
	if got := storage.GetFullPath("pages/a"); got != "s3://test-bucket/pages/a" {
		t.Errorf("GetFullPath() = %q", got)
	}
}

// TestNewS3StorageInvalidConfig tests error handling for incomplete config
func TestNewS3StorageInvalidConfig(t *testing.T) {
	valid := S3Config{
		Endpoint:        "http://localhost:9000",
		Region:          "us-east-1",
		Bucket:          "test-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	}

	tests := []struct {
		name   string
		mutate func(*S3Config)
	}{
		{"missing bucket", func(c *S3Config) { c.Bucket = "" }},
		{"missing region", func(c *S3Config) { c.Region = "" }},
		{"missing credentials", func(c *S3Config) { c.AccessKeyID, c.SecretAccessKey = "", "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewS3Storage(context.Background(), cfg); err == nil {
				t.Fatal("Expected error, got nil")
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	archive, err := Open(ctx, ArchiveConfig{Backend: BackendFS, Path: t.TempDir()})
	if err != nil {
		t.Fatalf("Open(fs) error = %v", err)
	}
	if _, ok := archive.(*Storage); !ok {
		t.Errorf("Open(fs) returned %T", archive)
	}

	if _, err := Open(ctx, ArchiveConfig{Backend: "ftp"}); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("Open(ftp) error = %v, want ErrUnknownBackend", err)
	}

	if archive, err := Open(ctx, ArchiveConfig{Backend: BackendS3}); err == nil || archive != nil {
		t.Errorf("Open(s3) with empty config = %v, %v; want nil archive and error", archive, err)
	}
}

func TestStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	page := testPage("https://www.expert.cz/mobilni-telefony?page=2")
	key, err := s.SavePage(ctx, page)
	if err != nil {
		t.Fatalf("SavePage() error = %v", err)
	}
	if want := "pages/expert/2024/03/expert-cz-mobilni-telefony-page2"; key != want {
		t.Errorf("SavePage() key = %q, want %q", key, want)
	}

	got, err := s.LoadPage(ctx, key)
	if err != nil {
		t.Fatalf("LoadPage() error = %v", err)
	}
	if got.URL != page.URL || got.SourceID != page.SourceID || !got.FetchedAt.Equal(page.FetchedAt) {
		t.Errorf("LoadPage() metadata = %+v, want %+v", got, page)
	}
	if string(got.Content) != string(page.Content) {
		t.Errorf("LoadPage() content = %q", got.Content)
	}
}

func TestStorageUniqueKeys(t *testing.T) {
	ctx := context.Background()
	s, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	page := testPage("https://www.alza.cz/notebooky")
	first, err := s.SavePage(ctx, page)
	if err != nil {
		t.Fatalf("SavePage() error = %v", err)
	}
	second, err := s.SavePage(ctx, page)
	if err != nil {
		t.Fatalf("SavePage() error = %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct keys, both %q", first)
	}
	if second != first+"-1" {
		t.Errorf("second key = %q, want %q", second, first+"-1")
	}

	keys, err := s.ListPages(ctx)
	if err != nil {
		t.Fatalf("ListPages() error = %v", err)
	}
	if len(keys) != 2 || keys[0] != first || keys[1] != second {
		t.Errorf("ListPages() = %v", keys)
	}

	if err := s.DeletePage(ctx, first); err != nil {
		t.Fatalf("DeletePage() error = %v", err)
	}
	if _, err := s.LoadPage(ctx, first); !errors.Is(err, ErrNotArchived) {
		t.Errorf("LoadPage() after delete error = %v, want ErrNotArchived", err)
	}
	if err := s.DeletePage(ctx, first); err != nil {
		t.Errorf("DeletePage() of missing page error = %v", err)
	}
}

func TestStorageListEmpty(t *testing.T) {
	s, err := New(Config{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	keys, err := s.ListPages(context.Background())
	if err != nil {
		t.Fatalf("ListPages() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("ListPages() = %v, want empty", keys)
	}
}

// fakeS3 serves path-style PUT/GET/DELETE and ListObjectsV2 for one bucket
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := "/" + f.bucket
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.Error(w, "no such bucket", http.StatusNotFound)
		return
	}
	key := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")

	switch {
	case r.Method == http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && key == "":
		var keys []string
		for k := range f.objects {
			if strings.HasPrefix(k, r.URL.Query().Get("prefix")) {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>%s</Name><KeyCount>%d</KeyCount><IsTruncated>false</IsTruncated>`, f.bucket, len(keys))
		for _, k := range keys {
			fmt.Fprintf(w, "<Contents><Key>%s</Key></Contents>", k)
		}
		fmt.Fprint(w, "</ListBucketResult>")
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Write(data)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3StorageRoundTrip(t *testing.T) {
	fake := &fakeS3{bucket: "pages-bucket", objects: map[string][]byte{}}
	server := httptest.NewServer(fake)
	defer server.Close()

	ctx := context.Background()
	s, err := NewS3Storage(ctx, S3Config{
		Endpoint:        server.URL,
		Region:          "us-east-1",
		Bucket:          "pages-bucket",
		AccessKeyID:     "test-key",
		SecretAccessKey: "test-secret",
		UsePathStyle:    true,
	})
	if err != nil {
		t.Fatalf("NewS3Storage() error = %v", err)
	}

	page := testPage("https://www.datart.cz/televize.html")
	key, err := s.SavePage(ctx, page)
	if err != nil {
		t.Fatalf("SavePage() error = %v", err)
	}
	if _, ok := fake.objects[key+".html"]; !ok {
		t.Errorf("body object %q not uploaded; have %d objects", key+".html", len(fake.objects))
	}

	got, err := s.LoadPage(ctx, key)
	if err != nil {
		t.Fatalf("LoadPage() error = %v", err)
	}
	if got.URL != page.URL || string(got.Content) != string(page.Content) {
		t.Errorf("LoadPage() = %+v", got)
	}

	keys, err := s.ListPages(ctx)
	if err != nil {
		t.Fatalf("ListPages() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("ListPages() = %v, want [%s]", keys, key)
	}

	if err := s.DeletePage(ctx, key); err != nil {
		t.Fatalf("DeletePage() error = %v", err)
	}
	if _, err := s.LoadPage(ctx, key); err == nil {
		t.Error("LoadPage() after delete should fail")
	}
}
