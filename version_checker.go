package main

import (
	"log"
	"sync"

	goversion "github.com/hashicorp/go-version"

	"github.com/0x9900/FT8Commander/wsjtx"
)

// minConsoleVersion is the oldest WSJT-X release the sequencer drives
// correctly. Earlier consoles do not report TRPeriod in Status packets.
const minConsoleVersion = "2.3.0"

// ConsoleVersion tracks the WSJT-X version announced in Heartbeat packets
// and warns when the console is older than the minimum supported release.
type ConsoleVersion struct {
	mu      sync.RWMutex
	current string
	minimum *goversion.Version
}

func NewConsoleVersion() *ConsoleVersion {
	return &ConsoleVersion{
		minimum: goversion.Must(goversion.NewVersion(minConsoleVersion)),
	}
}

// Observe records the version string of one Heartbeat. Each distinct
// version announced by the console is checked and logged once.
func (cv *ConsoleVersion) Observe(heartbeat *wsjtx.Heartbeat) {
	raw := heartbeat.Version
	if raw == "" {
		return
	}

	cv.mu.Lock()
	defer cv.mu.Unlock()
	if raw == cv.current {
		return
	}
	cv.current = raw

	parsed, err := goversion.NewVersion(raw)
	if err != nil {
		log.Printf("VersionCheck: cannot parse console version %q: %v", raw, err)
		return
	}
	if parsed.LessThan(cv.minimum) {
		log.Printf("VersionCheck: WSJT-X %s is older than the minimum supported %s, upgrade the console",
			raw, minConsoleVersion)
		return
	}
	if heartbeat.Revision != "" {
		log.Printf("VersionCheck: WSJT-X %s (%s)", raw, heartbeat.Revision)
		return
	}
	log.Printf("VersionCheck: WSJT-X %s", raw)
}

// Current returns the version last announced by the console, or the empty
// string before the first Heartbeat.
func (cv *ConsoleVersion) Current() string {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	return cv.current
}

// Supported reports whether the console meets the minimum version. An
// unseen or unparseable version counts as supported; the sequencer keeps
// running either way.
func (cv *ConsoleVersion) Supported() bool {
	cv.mu.RLock()
	defer cv.mu.RUnlock()
	if cv.current == "" {
		return true
	}
	parsed, err := goversion.NewVersion(cv.current)
	if err != nil {
		return true
	}
	return !parsed.LessThan(cv.minimum)
}
