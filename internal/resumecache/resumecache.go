// Package resumecache persists the last known playback position for a
// URL to disk, keyed by the URL's hash, so PlaylistCoordinator.retry can
// resume a dropped stream near where it left off even across process
// restarts.
package resumecache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultExpiry is how long a resume entry stays valid before it is
	// considered stale and ignored.
	DefaultExpiry = 24 * time.Hour
	// EntrySubdir is the subdirectory holding resume entries.
	EntrySubdir = "resume"
	// AppName is used for the cache directory name.
	AppName = "streamctl"
)

// Entry is the persisted resume point for one URL.
type Entry struct {
	URL      string    `json:"url"`
	SeekTime float64   `json:"seek_time"`
	SavedAt  time.Time `json:"saved_at"`
}

// Cache manages disk-based storage of per-URL resume entries.
type Cache struct {
	baseDir string
	expiry  time.Duration
}

// New creates a new Cache instance with the default expiry.
func New() (*Cache, error) {
	cacheDir, err := GetCacheDir()
	if err != nil {
		return nil, err
	}

	return &Cache{
		baseDir: cacheDir,
		expiry:  DefaultExpiry,
	}, nil
}

// GetCacheDir returns the platform-specific cache directory for the application.
func GetCacheDir() (string, error) {
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user cache directory: %w", err)
	}

	return filepath.Join(userCacheDir, AppName), nil
}

func (c *Cache) ensureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

func hashURL(url string) string {
	hash := md5.Sum([]byte(url))
	return hex.EncodeToString(hash[:])
}

func (c *Cache) entryPath(url string) string {
	return filepath.Join(c.baseDir, EntrySubdir, hashURL(url)+".json")
}

// Get retrieves the saved seek time for a URL. ok is false if there is no
// entry, or the entry is expired.
func (c *Cache) Get(url string) (seekTime float64, ok bool) {
	path := c.entryPath(url)

	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}

	if time.Since(info.ModTime()) > c.expiry {
		if err := os.Remove(path); err != nil {
			log.Debug().Err(err).Str("file", path).Msg("Failed to remove expired resume entry")
		}
		return 0, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Debug().Err(err).Str("file", path).Msg("Failed to decode resume entry")
		return 0, false
	}

	return entry.SeekTime, true
}

// Save stores the resume point for a URL, overwriting any prior entry.
func (c *Cache) Save(url string, seekTime float64) error {
	dir := filepath.Join(c.baseDir, EntrySubdir)
	if err := c.ensureDir(dir); err != nil {
		return fmt.Errorf("failed to create resume directory: %w", err)
	}

	entry := Entry{URL: url, SeekTime: seekTime, SavedAt: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal resume entry: %w", err)
	}

	path := c.entryPath(url)
	tmpFile, err := os.CreateTemp(dir, ".resume-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename resume entry: %w", err)
	}
	tmpPath = ""

	return nil
}

// Forget removes any saved resume point for a URL, called once a stream
// reaches DONE(EOF) since there is nothing left to resume.
func (c *Cache) Forget(url string) {
	if err := os.Remove(c.entryPath(url)); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Str("url", url).Msg("Failed to remove resume entry")
	}
}

// CleanExpired removes entries older than the expiry duration.
func (c *Cache) CleanExpired() error {
	dir := filepath.Join(c.baseDir, EntrySubdir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read resume directory: %w", err)
	}

	now := time.Now()
	var removed, failed int
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			log.Debug().Err(err).Str("file", entry.Name()).Msg("Failed to get file info")
			continue
		}

		if now.Sub(info.ModTime()) > c.expiry {
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				log.Debug().Err(err).Str("file", path).Msg("Failed to remove expired resume entry")
				failed++
			} else {
				removed++
			}
		}
	}

	if removed > 0 || failed > 0 {
		log.Debug().Int("removed", removed).Int("failed", failed).Msg("Resume cache cleanup completed")
	}

	return nil
}
