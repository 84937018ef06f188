package maidenhead

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

/*
 * Maidenhead locator geodesy
 * Grid decoding plus the great-circle math used to rank reception reports
 */

const earthRadiusKm = 6371.0

// ErrInvalidGrid reports a locator whose length or characters cannot be decoded.
var ErrInvalidGrid = errors.New("invalid maidenhead grid")

type point struct {
	lat, lon float64
}

var (
	cacheMu     sync.Mutex
	cache       = make(map[string]point)
	cacheHits   uint64
	cacheMisses uint64
)

// CacheInfo reports the GridToLatLon memo counters
type CacheInfo struct {
	Hits   uint64
	Misses uint64
	Size   int
}

func (c CacheInfo) String() string {
	return fmt.Sprintf("hits=%d misses=%d size=%d", c.Hits, c.Misses, c.Size)
}

// CacheStats returns the memo counters for the console CACHE command
func CacheStats() CacheInfo {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	return CacheInfo{Hits: cacheHits, Misses: cacheMisses, Size: len(cache)}
}

// GridToLatLon converts a Maidenhead locator of 2, 4, 6 or 8 characters to
// the latitude and longitude of its south-west corner. The same handful of
// grids shows up on every receive cycle, so decoded values are memoized.
func GridToLatLon(grid string) (lat, lon float64, err error) {
	key := strings.ToUpper(strings.TrimSpace(grid))

	cacheMu.Lock()
	if p, ok := cache[key]; ok {
		cacheHits++
		cacheMu.Unlock()
		return p.lat, p.lon, nil
	}
	cacheMisses++
	cacheMu.Unlock()

	lat, lon, err = decode(key)
	if err != nil {
		return 0, 0, err
	}

	cacheMu.Lock()
	cache[key] = point{lat: lat, lon: lon}
	cacheMu.Unlock()
	return lat, lon, nil
}

func decode(grid string) (lat, lon float64, err error) {
	switch len(grid) {
	case 2, 4, 6, 8:
	default:
		return 0, 0, fmt.Errorf("%w: %q: length must be 2, 4, 6 or 8", ErrInvalidGrid, grid)
	}

	lon = -180.0
	lat = -90.0

	// Field (first 2 characters): 20° longitude x 10° latitude
	if !inRange(grid[0], 'A', 'R') || !inRange(grid[1], 'A', 'R') {
		return 0, 0, fmt.Errorf("%w: %q: field characters must be A-R", ErrInvalidGrid, grid)
	}
	lon += float64(grid[0]-'A') * 20.0
	lat += float64(grid[1]-'A') * 10.0

	// Square (characters 3-4): 2° longitude x 1° latitude
	if len(grid) >= 4 {
		if !inRange(grid[2], '0', '9') || !inRange(grid[3], '0', '9') {
			return 0, 0, fmt.Errorf("%w: %q: square characters must be 0-9", ErrInvalidGrid, grid)
		}
		lon += float64(grid[2]-'0') * 2.0
		lat += float64(grid[3]-'0') * 1.0
	}

	// Subsquare (characters 5-6): 5' longitude x 2.5' latitude
	if len(grid) >= 6 {
		if !inRange(grid[4], 'A', 'X') || !inRange(grid[5], 'A', 'X') {
			return 0, 0, fmt.Errorf("%w: %q: subsquare characters must be A-X", ErrInvalidGrid, grid)
		}
		lon += float64(grid[4]-'A') * 5.0 / 60.0
		lat += float64(grid[5]-'A') * 2.5 / 60.0
	}

	// Extended square (characters 7-8): 30" longitude x 15" latitude
	if len(grid) == 8 {
		if !inRange(grid[6], '0', '9') || !inRange(grid[7], '0', '9') {
			return 0, 0, fmt.Errorf("%w: %q: extended square characters must be 0-9", ErrInvalidGrid, grid)
		}
		lon += float64(grid[6]-'0') * 5.0 / 600.0
		lat += float64(grid[7]-'0') * 2.5 / 600.0
	}

	return lat, lon, nil
}

func inRange(c, lo, hi byte) bool { return c >= lo && c <= hi }

// Distance returns the great circle distance in kilometers between two
// points, using the Haversine formula on a 6371 km sphere.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0

	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// Azimuth returns the initial bearing from the first point toward the
// second as a whole number of degrees. Negative bearings fold onto their
// absolute value, so the result lies in [0, 180].
func Azimuth(lat1, lon1, lat2, lon2 float64) int {
	lat1Rad := lat1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	y := math.Sin(dLon) * math.Cos(lat2Rad)
	x := math.Cos(lat1Rad)*math.Sin(lat2Rad) -
		math.Sin(lat1Rad)*math.Cos(lat2Rad)*math.Cos(dLon)
	deg := math.Atan2(y, x) * 180.0 / math.Pi

	az := int(deg)
	if az < 0 {
		az = -az
	}
	return az % 360
}
