package imagecache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"bilisub/pkg/logger"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind partitions the cache. Each kind has its own directory and its own
// lock, so a slow screenshot never blocks cover downloads.
type Kind string

const (
	KindCover      Kind = "cover"
	KindPicture    Kind = "picture"
	KindFace       Kind = "face"
	KindScreenshot Kind = "screenshot"
)

// Kinds lists every cache kind
var Kinds = []Kind{KindCover, KindPicture, KindFace, KindScreenshot}

// Source downloads the bytes behind an image URL
type Source interface {
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// Cache stores images on disk, indexed by an LRU. Evicted entries are
// removed from disk.
type Cache struct {
	dir    string
	index  *lru.Cache[string, string]
	locks  map[Kind]*sync.Mutex
	source Source
	logger logger.Logger
}

// New creates a cache rooted at dir holding at most size images
func New(dir string, size int, source Source, log logger.Logger) (*Cache, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if size <= 0 {
		size = 512
	}

	c := &Cache{
		dir:    dir,
		locks:  make(map[Kind]*sync.Mutex, len(Kinds)),
		source: source,
		logger: log,
	}

	index, err := lru.NewWithEvict[string, string](size, func(key, file string) {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			log.WarnWithFields("Failed to remove evicted image", map[string]interface{}{
				"path":  file,
				"error": err.Error(),
			})
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache index: %w", err)
	}
	c.index = index

	for _, kind := range Kinds {
		c.locks[kind] = &sync.Mutex{}
		if err := os.MkdirAll(filepath.Join(dir, string(kind)), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		if err := c.scanExistingFiles(kind); err != nil {
			return nil, fmt.Errorf("failed to scan existing files: %w", err)
		}
	}

	log.DebugWithFields("Image cache ready", map[string]interface{}{
		"dir":     dir,
		"entries": c.index.Len(),
	})
	return c, nil
}

// scanExistingFiles indexes images left over from a previous run
func (c *Cache) scanExistingFiles(kind Kind) error {
	entries, err := os.ReadDir(filepath.Join(c.dir, string(kind)))
	if err != nil {
		return fmt.Errorf("failed to read directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		c.index.Add(string(kind)+"/"+entry.Name(), filepath.Join(c.dir, string(kind), entry.Name()))
	}
	return nil
}

// Get returns the local path of rawURL, downloading it on a miss
func (c *Cache) Get(ctx context.Context, kind Kind, rawURL string) (string, error) {
	mu, ok := c.locks[kind]
	if !ok {
		return "", fmt.Errorf("unknown cache kind %q", kind)
	}
	if c.source == nil {
		return "", fmt.Errorf("image cache has no source")
	}

	name := fileName(rawURL)
	key := string(kind) + "/" + name

	mu.Lock()
	defer mu.Unlock()

	if file, ok := c.index.Get(key); ok {
		if _, err := os.Stat(file); err == nil {
			return file, nil
		}
		c.index.Remove(key)
	}

	start := time.Now()
	data, err := c.source.Download(ctx, rawURL)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, err)
	}

	file, err := c.save(kind, name, data)
	if err != nil {
		return "", err
	}

	c.logger.DebugWithFields("Image cached", map[string]interface{}{
		"kind":     string(kind),
		"url":      rawURL,
		"size":     len(data),
		"duration": time.Since(start),
	})
	return file, nil
}

// Put stores data produced locally, such as a screenshot, under name
func (c *Cache) Put(kind Kind, name string, data []byte) (string, error) {
	mu, ok := c.locks[kind]
	if !ok {
		return "", fmt.Errorf("unknown cache kind %q", kind)
	}
	mu.Lock()
	defer mu.Unlock()
	return c.save(kind, name, data)
}

// Len returns the number of indexed images
func (c *Cache) Len() int {
	return c.index.Len()
}

// save writes data atomically and indexes it. Caller holds the kind lock.
func (c *Cache) save(kind Kind, name string, data []byte) (string, error) {
	file := filepath.Join(c.dir, string(kind), name)
	tempFile := file + ".tmp"

	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := os.Rename(tempFile, file); err != nil {
		os.Remove(tempFile)
		return "", fmt.Errorf("failed to rename temporary file: %w", err)
	}

	c.index.Add(string(kind)+"/"+name, file)
	return file, nil
}

// fileName derives a stable file name from a URL, keeping a known extension
func fileName(rawURL string) string {
	sum := sha1.Sum([]byte(rawURL))
	ext := ".img"
	if u, err := url.Parse(rawURL); err == nil {
		switch e := strings.ToLower(path.Ext(u.Path)); e {
		case ".jpg", ".jpeg", ".png", ".gif", ".webp":
			ext = e
		}
	}
	return hex.EncodeToString(sum[:]) + ext
}

// HTTPSource downloads images from the platform CDN
type HTTPSource struct {
	client    *http.Client
	userAgent string
	referer   string
	maxBytes  int64
}

// NewHTTPSource creates a source. The CDN rejects hotlinks without a
// bilibili referer.
func NewHTTPSource(timeout time.Duration, userAgent string) *HTTPSource {
	return &HTTPSource{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		referer:   "https://www.bilibili.com/",
		maxBytes:  20 << 20,
	}
}

func (s *HTTPSource) Download(ctx context.Context, rawURL string) ([]byte, error) {
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "https:" + rawURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Referer", s.referer)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("image larger than %d bytes", s.maxBytes)
	}
	return data, nil
}
