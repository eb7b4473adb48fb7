package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/manash/memegen/internal/security"
	"github.com/manash/memegen/pkg/models"
)

const (
	// MaxImageBytes caps uploads and remote fetches.
	MaxImageBytes = 20 << 20

	defaultFetchTimeout    = 30 * time.Second
	defaultCacheExpiration = 30 * time.Minute
	cacheCleanupInterval   = time.Hour
)

var (
	ErrNoImage      = errors.New("no image loaded")
	ErrTemplateLoad = errors.New("failed to load template image")
	ErrTooLarge     = errors.New("image exceeds size limit")
)

// Store holds the single current image and fetches remote ones.
type Store struct {
	mu      sync.RWMutex
	current *models.Image
	source  string

	httpClient  *http.Client
	strictHosts bool
	fetched     *cache.Cache
	group       singleflight.Group
}

type Option func(*Store)

func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) {
		s.httpClient = c
	}
}

// WithStrictHosts restricts remote fetches to the template hosts.
func WithStrictHosts(strict bool) Option {
	return func(s *Store) {
		s.strictHosts = strict
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		httpClient: &http.Client{
			Timeout: defaultFetchTimeout,
		},
		fetched: cache.New(defaultCacheExpiration, cacheCleanupInterval),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) LoadFromFile(path string) (*models.Image, error) {
	img, err := DecodeFile(path)
	if err != nil {
		return nil, err
	}
	s.set(img, path)
	return img, nil
}

// LoadFromReader reads an uploaded image and makes it current. name is only
// recorded as the image source.
func (s *Store) LoadFromReader(r io.Reader, name string) (*models.Image, error) {
	img, err := Decode(r)
	if err != nil {
		return nil, err
	}
	s.set(img, name)
	return img, nil
}

// DecodeFile reads and sniffs a local image without touching the store.
func DecodeFile(path string) (*models.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	return Decode(f)
}

// Decode reads and sniffs an image without touching the store.
func Decode(r io.Reader) (*models.Image, error) {
	data, err := readLimited(r)
	if err != nil {
		return nil, err
	}
	return models.NewImage(data)
}

// Fetch downloads a remote image without making it current. Repeated URLs
// are served from cache and concurrent fetches of one URL share a request.
// Every failure wraps ErrTemplateLoad.
func (s *Store) Fetch(ctx context.Context, url string) (*models.Image, error) {
	if cached, ok := s.fetched.Get(url); ok {
		if img, ok := cached.(*models.Image); ok {
			return img, nil
		}
	}

	val, err, _ := s.group.Do(url, func() (interface{}, error) {
		if cached, ok := s.fetched.Get(url); ok {
			return cached, nil
		}

		data, err := s.download(ctx, url)
		if err != nil {
			return nil, err
		}
		img, err := models.NewImage(data)
		if err != nil {
			return nil, err
		}

		s.fetched.SetDefault(url, img)
		return img, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemplateLoad, err)
	}

	img, ok := val.(*models.Image)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected cache value %T", ErrTemplateLoad, val)
	}
	return img, nil
}

func (s *Store) LoadFromURL(ctx context.Context, url string) (*models.Image, error) {
	img, err := s.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	s.set(img, url)
	return img, nil
}

// Replace installs an image produced elsewhere, such as an AI edit.
func (s *Store) Replace(img *models.Image, source string) error {
	if img == nil || len(img.Data) == 0 {
		return models.ErrNoImageData
	}
	s.set(img, source)
	return nil
}

func (s *Store) Current() (*models.Image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.current != nil
}

func (s *Store) Source() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.source
}

func (s *Store) HasImage() bool {
	_, ok := s.Current()
	return ok
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.source = ""
}

func (s *Store) set(img *models.Image, source string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = img
	s.source = source
}

func (s *Store) download(ctx context.Context, url string) ([]byte, error) {
	if err := security.ValidateImageURL(url, s.strictHosts); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	return readLimited(resp.Body)
}

func readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// WriteFile writes exported bytes, creating parent directories.
func WriteFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// GenerateFilename names an export after the time it was made.
func GenerateFilename(index int, t time.Time) string {
	timestamp := t.Format("20060102-150405")
	if index > 0 {
		return fmt.Sprintf("meme-%s-%d.png", timestamp, index+1)
	}
	return fmt.Sprintf("meme-%s.png", timestamp)
}
