// Package storage archives fetched listing pages so a crawl can be replayed
// without the network. Pages are stored as an HTML body plus a JSON sidecar
// carrying the URL, source and fetch time.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docutag/shopscraper/models"
	"github.com/docutag/shopscraper/slug"
)

const (
	pagesPrefix = "pages"
	bodySuffix  = ".html"
	metaSuffix  = ".json"
)

// ErrNotArchived is returned when a key has no stored page
var ErrNotArchived = errors.New("page not archived")

// Archive stores and retrieves raw pages. Keys are slash-separated and name
// the page without its suffix.
type Archive interface {
	SavePage(ctx context.Context, page models.RawPage) (string, error)
	LoadPage(ctx context.Context, key string) (models.RawPage, error)
	ListPages(ctx context.Context) ([]string, error)
	DeletePage(ctx context.Context, key string) error
}

var (
	_ Archive = (*Storage)(nil)
	_ Archive = (*S3Storage)(nil)
)

// pageMeta is the JSON sidecar of an archived page
type pageMeta struct {
	URL       string    `json:"url"`
	SourceID  string    `json:"source_id"`
	FetchedAt time.Time `json:"fetched_at"`
}

// pageKey builds pages/<source>/YYYY/MM/<slug>
func pageKey(page models.RawPage) string {
	fetched := page.FetchedAt
	if fetched.IsZero() {
		fetched = time.Now()
	}
	source := slug.GenerateWithFallback(page.SourceID, "unknown")
	return path.Join(pagesPrefix, source,
		fmt.Sprintf("%04d", fetched.Year()),
		fmt.Sprintf("%02d", int(fetched.Month())),
		slug.FromPageURL(page.URL))
}

func encodeMeta(page models.RawPage) ([]byte, error) {
	data, err := json.Marshal(pageMeta{URL: page.URL, SourceID: page.SourceID, FetchedAt: page.FetchedAt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal page metadata: %w", err)
	}
	return data, nil
}

func decodeMeta(data, body []byte) (models.RawPage, error) {
	var meta pageMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return models.RawPage{}, fmt.Errorf("failed to unmarshal page metadata: %w", err)
	}
	return models.RawPage{URL: meta.URL, SourceID: meta.SourceID, Content: body, FetchedAt: meta.FetchedAt}, nil
}

// Archive backends
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// ErrUnknownBackend is returned by Open for an unsupported backend name
var ErrUnknownBackend = errors.New("unknown archive backend")

// ArchiveConfig selects and configures an archive backend
type ArchiveConfig struct {
	Backend string   `yaml:"backend"`
	Path    string   `yaml:"path"`
	S3      S3Config `yaml:"s3"`
}

// Open builds the archive named by cfg.Backend
func Open(ctx context.Context, cfg ArchiveConfig) (Archive, error) {
	switch cfg.Backend {
	case "", BackendFS:
		basePath := cfg.Path
		if basePath == "" {
			basePath = DefaultConfig().BasePath
		}
		local, err := New(Config{BasePath: basePath})
		if err != nil {
			return nil, err
		}
		return local, nil
	case BackendS3:
		s3s, err := NewS3Storage(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return s3s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}

// Config contains storage configuration
type Config struct {
	BasePath string // Base directory for all stored files
}

// DefaultConfig returns default storage configuration
func DefaultConfig() Config {
	return Config{
		BasePath: "./storage",
	}
}

// Storage archives pages on the local filesystem
type Storage struct {
	config Config
}

// New creates a new Storage instance
func New(config Config) (*Storage, error) {
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base storage directory: %w", err)
	}

	return &Storage{
		config: config,
	}, nil
}

// SavePage writes the page body and metadata. A page already archived under
// the same key gets a numeric suffix.
func (s *Storage) SavePage(_ context.Context, page models.RawPage) (string, error) {
	key := pageKey(page)
	dirPath := filepath.Join(s.config.BasePath, filepath.FromSlash(path.Dir(key)))

	if err := os.MkdirAll(dirPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create page directory: %w", err)
	}

	// Make unique if necessary
	base := key
	for counter := 1; fileExists(s.GetFullPath(key + bodySuffix)); counter++ {
		key = fmt.Sprintf("%s-%d", base, counter)
	}

	meta, err := encodeMeta(page)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(s.GetFullPath(key+bodySuffix), page.Content, 0644); err != nil {
		return "", fmt.Errorf("failed to write page file: %w", err)
	}
	if err := os.WriteFile(s.GetFullPath(key+metaSuffix), meta, 0644); err != nil {
		return "", fmt.Errorf("failed to write page metadata: %w", err)
	}

	return key, nil
}

// LoadPage reads an archived page
func (s *Storage) LoadPage(_ context.Context, key string) (models.RawPage, error) {
	body, err := os.ReadFile(s.GetFullPath(key + bodySuffix))
	if errors.Is(err, fs.ErrNotExist) {
		return models.RawPage{}, fmt.Errorf("%w: %s", ErrNotArchived, key)
	}
	if err != nil {
		return models.RawPage{}, fmt.Errorf("failed to read page file: %w", err)
	}

	meta, err := os.ReadFile(s.GetFullPath(key + metaSuffix))
	if err != nil {
		return models.RawPage{}, fmt.Errorf("failed to read page metadata: %w", err)
	}
	return decodeMeta(meta, body)
}

// ListPages returns every archived page key in lexical order
func (s *Storage) ListPages(_ context.Context) ([]string, error) {
	root := filepath.Join(s.config.BasePath, pagesPrefix)
	var keys []string

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, metaSuffix) {
			return nil
		}
		rel, err := filepath.Rel(s.config.BasePath, p)
		if err != nil {
			return err
		}
		keys = append(keys, strings.TrimSuffix(filepath.ToSlash(rel), metaSuffix))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list archived pages: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// DeletePage removes an archived page. Missing files are not an error.
func (s *Storage) DeletePage(_ context.Context, key string) error {
	for _, suffix := range []string{bodySuffix, metaSuffix} {
		if err := os.Remove(s.GetFullPath(key + suffix)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete archived page: %w", err)
		}
	}
	return nil
}

// GetFullPath returns the full filesystem path for a relative path
func (s *Storage) GetFullPath(relPath string) string {
	return filepath.Join(s.config.BasePath, filepath.FromSlash(relPath))
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
