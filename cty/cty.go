package cty

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

/*
 * DXCC prefix database
 * Resolves callsigns to country, continent and zones by longest-prefix
 * match against the country-files.com cty.plist table, cached in a local
 * key-value file for fast startup
 */

const (
	// DefaultURL is the upstream prefix table.
	DefaultURL = "https://www.country-files.com/cty/cty.plist"
	// DefaultMaxAge is how long the local cty.plist stays fresh.
	DefaultMaxAge = 7 * 24 * time.Hour

	sourceName = "cty.plist"
	cacheName  = "cty.db"
	bucketName = "cty"
	metaKey    = "_meta_data_"
)

// ErrUnknownPrefix reports a callsign with no matching DXCC prefix.
var ErrUnknownPrefix = errors.New("unknown prefix")

// Entry is the DXCC record resolved for a callsign prefix.
type Entry struct {
	Country   string  `json:"country"`
	Continent string  `json:"continent"`
	CQZone    int     `json:"cqzone"`
	ITUZone   int     `json:"ituzone"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	GMTOffset float64 `json:"gmtoffset"`
}

type metaData struct {
	Entities map[string][]string `json:"entities"`
	MaxLen   int                 `json:"max_len"`
}

// Options configures where the database keeps its files and how it
// refreshes them.
type Options struct {
	Home   string        // directory holding cty.plist and the cache file
	URL    string        // source override, DefaultURL when empty
	MaxAge time.Duration // source freshness window, DefaultMaxAge when zero
}

// DB answers prefix lookups from a bolt cache built out of cty.plist.
type DB struct {
	db       *bolt.DB
	entities map[string][]string
	maxLen   int
}

// New opens the prefix database under opts.Home, building the cache from
// cty.plist first when the cache is missing or older than the source. The
// source itself is re-downloaded at most once per MaxAge; when the download
// fails and a stale copy exists, the stale copy is used.
func New(opts Options) (*DB, error) {
	if opts.URL == "" {
		opts.URL = DefaultURL
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if err := os.MkdirAll(opts.Home, 0o755); err != nil {
		return nil, fmt.Errorf("cty home: %w", err)
	}

	sourcePath := filepath.Join(opts.Home, sourceName)
	cachePath := filepath.Join(opts.Home, cacheName)

	if cacheFresh(cachePath, sourcePath) {
		return open(cachePath)
	}

	if err := refreshSource(sourcePath, opts.URL, opts.MaxAge); err != nil {
		return nil, err
	}
	if err := buildCache(cachePath, sourcePath); err != nil {
		return nil, err
	}
	return open(cachePath)
}

// cacheFresh reports whether the cache file can be used as is: it exists,
// and the source file is absent or no newer.
func cacheFresh(cachePath, sourcePath string) bool {
	cacheInfo, err := os.Stat(cachePath)
	if err != nil {
		return false
	}
	sourceInfo, err := os.Stat(sourcePath)
	if err != nil {
		return true
	}
	return !cacheInfo.ModTime().Before(sourceInfo.ModTime())
}

func open(path string) (*DB, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cty cache: %w", err)
	}

	d := &DB{db: db}
	err = db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("cty cache %s has no %s bucket", path, bucketName)
		}
		raw := b.Get([]byte(metaKey))
		if raw == nil {
			return fmt.Errorf("cty cache %s has no %s key", path, metaKey)
		}
		var meta metaData
		if err := json.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("cty cache metadata: %w", err)
		}
		d.entities = meta.Entities
		d.maxLen = meta.MaxLen
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the underlying cache file.
func (d *DB) Close() error {
	return d.db.Close()
}

// Lookup resolves a callsign by probing its prefixes from the longest one
// down. The probe order means exact-callsign entries win over shorter
// country prefixes.
func (d *DB) Lookup(call string) (Entry, error) {
	call = strings.ToUpper(strings.TrimSpace(call))
	var entry Entry
	found := false

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("cty cache has no %s bucket", bucketName)
		}
		longest := d.maxLen
		if len(call) < longest {
			longest = len(call)
		}
		for l := longest; l >= 1; l-- {
			raw := b.Get([]byte(call[:l]))
			if raw == nil {
				continue
			}
			found = true
			return json.Unmarshal(raw, &entry)
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownPrefix, call)
	}
	return entry, nil
}

// IsEntity reports whether the country name exists in the table.
func (d *DB) IsEntity(country string) bool {
	_, ok := d.entities[country]
	return ok
}

// Entities returns every country with its prefixes.
func (d *DB) Entities() map[string][]string {
	out := make(map[string][]string, len(d.entities))
	for country, prefixes := range d.entities {
		out[country] = append([]string(nil), prefixes...)
	}
	return out
}

// GetEntity returns the prefixes registered for one country.
func (d *DB) GetEntity(country string) ([]string, bool) {
	prefixes, ok := d.entities[country]
	if !ok {
		return nil, false
	}
	return append([]string(nil), prefixes...), true
}

// MaxPrefixLen returns the longest key in the prefix table.
func (d *DB) MaxPrefixLen() int {
	return d.maxLen
}

// buildCache parses cty.plist and rewrites the bolt cache from scratch.
func buildCache(cachePath, sourcePath string) error {
	records, err := parsePlist(sourcePath)
	if err != nil {
		return err
	}

	meta := metaData{Entities: make(map[string][]string)}
	for prefix, rec := range records {
		if len(prefix) > meta.MaxLen {
			meta.MaxLen = len(prefix)
		}
		meta.Entities[rec.Country] = append(meta.Entities[rec.Country], prefix)
	}
	for _, prefixes := range meta.Entities {
		sort.Strings(prefixes)
	}

	tmpPath := cachePath + ".tmp"
	os.Remove(tmpPath)
	db, err := bolt.Open(tmpPath, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("create cty cache: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		for prefix, rec := range records {
			raw, err := json.Marshal(rec.entry())
			if err != nil {
				return err
			}
			if err := b.Put([]byte(prefix), raw); err != nil {
				return err
			}
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return b.Put([]byte(metaKey), raw)
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("build cty cache: %w", err)
	}

	if err := os.Rename(tmpPath, cachePath); err != nil {
		return fmt.Errorf("install cty cache: %w", err)
	}
	log.Printf("DXCC: cache rebuilt with %d prefixes, %d entities", len(records), len(meta.Entities))
	return nil
}
