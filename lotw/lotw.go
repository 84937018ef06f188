package lotw

import (
	"crypto/tls"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	bolt "go.etcd.io/bbolt"
)

/*
 * Logbook of The World activity registry
 * Keeps a local set of callsigns seen recently on the ARRL upload feed,
 * used by selectors to prefer stations likely to confirm a contact
 */

const (
	// DefaultURL is the ARRL user-activity feed.
	DefaultURL = "https://lotw.arrl.org/lotw-user-activity.csv"
	// DefaultMaxAge is how long the local cache stays fresh.
	DefaultMaxAge = 7 * 24 * time.Hour
	// DefaultCutoff drops users whose last upload is older than this.
	DefaultCutoff = 270 * 24 * time.Hour

	cacheName  = "lotw-cache.db"
	bucketName = "users"
	ageKey     = "__age__"
	memoSize   = 512

	fetchTimeout = 60 * time.Second
)

// Options configures the cache location and refresh policy.
type Options struct {
	Path   string        // cache file, default under the system temp dir
	URL    string        // source override, DefaultURL when empty
	MaxAge time.Duration // cache freshness window, DefaultMaxAge when zero
	Cutoff time.Duration // last-seen cutoff, DefaultCutoff when zero
}

// Registry answers membership queries against the cached user set.
type Registry struct {
	db     *bolt.DB
	memo   *lru.Cache[string, bool]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// CacheInfo reports the membership memo counters
type CacheInfo struct {
	Hits   uint64
	Misses uint64
	Size   int
}

func (c CacheInfo) String() string {
	return fmt.Sprintf("hits=%d misses=%d size=%d", c.Hits, c.Misses, c.Size)
}

// New opens the registry, refreshing the cache file from the activity feed
// when it is missing or older than MaxAge. A failed refresh falls back to
// the stale cache when one exists.
func New(opts Options) (*Registry, error) {
	if opts.Path == "" {
		opts.Path = filepath.Join(os.TempDir(), cacheName)
	}
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.Cutoff == 0 {
		opts.Cutoff = DefaultCutoff
	}

	if expired(opts.Path, opts.MaxAge) {
		if err := refresh(opts.Path, opts.URL, opts.Cutoff); err != nil {
			if _, statErr := os.Stat(opts.Path); statErr != nil {
				return nil, fmt.Errorf("lotw refresh: %w", err)
			}
			log.Printf("LOTW: refresh failed (%v), keeping stale cache %s", err, opts.Path)
		}
	}

	db, err := bolt.Open(opts.Path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open lotw cache: %w", err)
	}

	memo, err := lru.New[string, bool](memoSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	r := &Registry{db: db, memo: memo}
	log.Printf("LOTW: registry ready with %d users, refreshed %s",
		r.Count(), r.Age().Format(time.RFC3339))
	return r, nil
}

// Close releases the cache file.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Contains reports whether the callsign appears in the activity set.
func (r *Registry) Contains(call string) bool {
	call = strings.ToUpper(strings.TrimSpace(call))
	if found, ok := r.memo.Get(call); ok {
		r.hits.Add(1)
		return found
	}
	r.misses.Add(1)

	var found bool
	r.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(bucketName)); b != nil {
			found = b.Get([]byte(call)) != nil
		}
		return nil
	})
	r.memo.Add(call, found)
	return found
}

// Count returns the number of cached users.
func (r *Registry) Count() int {
	var n int
	r.db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket([]byte(bucketName)); b != nil {
			n = b.Stats().KeyN - 1 // minus the age key
		}
		return nil
	})
	if n < 0 {
		n = 0
	}
	return n
}

// Age returns when the cache was last refreshed.
func (r *Registry) Age() time.Time {
	var at time.Time
	r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(ageKey))
		if raw == nil {
			return nil
		}
		epoch, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil
		}
		at = time.Unix(epoch, 0).UTC()
		return nil
	})
	return at
}

// CacheStats returns the memo counters for the console CACHE command
func (r *Registry) CacheStats() CacheInfo {
	return CacheInfo{
		Hits:   r.hits.Load(),
		Misses: r.misses.Load(),
		Size:   r.memo.Len(),
	}
}

func expired(path string, maxAge time.Duration) bool {
	info, err := os.Stat(path)
	if err != nil {
		return true
	}
	return time.Since(info.ModTime()) > maxAge
}

// refresh downloads the activity feed and rebuilds the cache file with the
// users seen within the cutoff window. The feed host has served a broken
// certificate chain for years, so certificate validation stays off for
// this one fetch.
func refresh(path, url string, cutoff time.Duration) error {
	client := &http.Client{
		Timeout: fetchTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}

	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	users, err := parseActivity(resp.Body, time.Now().Add(-cutoff))
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return errors.New("activity feed came back empty")
	}

	tmpPath := path + ".tmp"
	os.Remove(tmpPath)
	db, err := bolt.Open(tmpPath, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		for call, lastSeen := range users {
			if err := b.Put([]byte(call), []byte(lastSeen)); err != nil {
				return err
			}
		}
		epoch := strconv.FormatInt(time.Now().Unix(), 10)
		return b.Put([]byte(ageKey), []byte(epoch))
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	log.Printf("LOTW: cached %d active users", len(users))
	return nil
}

// parseActivity streams rows of "CALL,YYYY-MM-DD,HH:MM:SS", keeping calls
// last seen after the cutoff date. Malformed rows are skipped.
func parseActivity(src io.Reader, oldest time.Time) (map[string]string, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	users := make(map[string]string)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) < 2 {
			continue
		}
		lastSeen, err := time.Parse("2006-01-02", record[1])
		if err != nil {
			continue
		}
		if lastSeen.Before(oldest) {
			continue
		}
		users[strings.ToUpper(strings.TrimSpace(record[0]))] = record[1]
	}
	return users, nil
}
