package cty

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"howett.net/plist"
)

const fetchTimeout = 30 * time.Second

// plistRecord mirrors one cty.plist entry. Keys beyond these exist in the
// file (ADIF number, exact flag) but the controller has no use for them.
type plistRecord struct {
	Country   string  `plist:"Country"`
	Continent string  `plist:"Continent"`
	CQZone    int     `plist:"CQZone"`
	ITUZone   int     `plist:"ITUZone"`
	Latitude  float64 `plist:"Latitude"`
	Longitude float64 `plist:"Longitude"`
	GMTOffset float64 `plist:"GMTOffset"`
}

func (p plistRecord) entry() Entry {
	return Entry{
		Country:   p.Country,
		Continent: p.Continent,
		CQZone:    p.CQZone,
		ITUZone:   p.ITUZone,
		Latitude:  p.Latitude,
		Longitude: p.Longitude,
		GMTOffset: p.GMTOffset,
	}
}

func parsePlist(path string) (map[string]plistRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	raw := make(map[string]plistRecord)
	if _, err := plist.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	records := make(map[string]plistRecord, len(raw))
	for prefix, rec := range raw {
		records[strings.ToUpper(prefix)] = rec
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("parse %s: no prefixes found", path)
	}
	return records, nil
}

// refreshSource downloads a new cty.plist unless the local copy is younger
// than maxAge. A failed download with a stale copy on disk logs and keeps
// the stale copy; with no copy at all it is fatal.
func refreshSource(path, url string, maxAge time.Duration) error {
	info, statErr := os.Stat(path)
	if statErr == nil && time.Since(info.ModTime()) < maxAge {
		return nil
	}

	if err := download(path, url); err != nil {
		if statErr == nil {
			log.Printf("DXCC: refresh failed (%v), keeping stale %s from %s",
				err, path, info.ModTime().Format(time.RFC3339))
			return nil
		}
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	log.Printf("DXCC: downloaded %s", url)
	return nil
}

func download(path, url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), sourceName+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
