// Package selector decides which of the stations heard calling CQ is
// worth answering. A pipeline of selectors runs in configured order and
// the first one to return a candidate wins.
package selector

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0x9900/FT8Commander/spotdb"
)

const (
	// DefaultWindow bounds how old a sighting may be and still count as
	// "on the air right now".
	DefaultWindow = 29 * time.Second
	// DefaultMemoTTL is how long one fetch from the store is reused.
	DefaultMemoTTL = 3 * time.Second

	DefaultMinSNR      = -50
	DefaultMaxSNR      = 50
	DefaultWorkedCount = 2
)

// Candidate is a stored sighting with the ranking coefficient attached.
type Candidate struct {
	spotdb.Sighting
	Coef float64
}

// OperatorRegistry reports whether a callsign belongs to an operator who
// confirms contacts. *lotw.Registry satisfies it.
type OperatorRegistry interface {
	Contains(call string) bool
}

// EntityChecker validates DXCC country names. *cty.DB satisfies it.
type EntityChecker interface {
	IsEntity(name string) bool
}

// Deps carries everything the selectors consult. Operators may be nil
// when no selector sets lotw_users_only.
type Deps struct {
	Store       *spotdb.Store
	Entities    EntityChecker
	Operators   OperatorRegistry
	Blacklist   []string
	MyContinent string
}

// Options is one selector's configuration section. All kinds share the
// same keys and ignore the ones they have no use for. Unknown keys are
// rejected when the section decodes.
type Options struct {
	MinSNR        *int   `yaml:"min_snr"`
	MaxSNR        *int   `yaml:"max_snr"`
	Delta         int    `yaml:"delta"`
	Reverse       bool   `yaml:"reverse"`
	List          []any  `yaml:"list"`
	Regexp        string `yaml:"regexp"`
	LOTWUsersOnly bool   `yaml:"lotw_users_only"`
	WorkedCount   int    `yaml:"worked_count"`
	Debug         bool   `yaml:"debug"`
	MyContinent   string `yaml:"my_continent"`
}

func (o *Options) minSNR() int {
	if o.MinSNR != nil {
		return *o.MinSNR
	}
	return DefaultMinSNR
}

func (o *Options) maxSNR() int {
	if o.MaxSNR != nil {
		return *o.MaxSNR
	}
	return DefaultMaxSNR
}

func (o *Options) window() time.Duration {
	if o.Delta > 0 {
		return time.Duration(o.Delta) * time.Second
	}
	return DefaultWindow
}

func (o *Options) workedCount() int {
	if o.WorkedCount > 0 {
		return o.WorkedCount
	}
	return DefaultWorkedCount
}

// decodeOptions parses a selector section strictly. A nil node means the
// section is absent and every key takes its default.
func decodeOptions(node *yaml.Node) (*Options, error) {
	var opts Options
	if node == nil {
		return &opts, nil
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return &opts, nil
}

type matchFunc func(*Candidate) bool

type selector struct {
	name  string
	opts  *Options
	match matchFunc
}

// Pipeline runs the configured selectors in order against the sightings
// heard on one band.
type Pipeline struct {
	selectors []*selector
	cache     *fetchCache
	deps      Deps
	blacklist map[string]bool
}

// New builds the pipeline. Names come from the closed registry of
// selector kinds; sections hold each selector's configuration keyed by
// its name. Construction fails on an unknown name, an unknown key, or
// options the kind cannot work with.
func New(names []string, sections map[string]*yaml.Node, deps Deps) (*Pipeline, error) {
	if len(names) == 0 {
		return nil, errors.New("selector: no selector configured")
	}
	p := &Pipeline{
		cache:     &fetchCache{store: deps.Store, ttl: DefaultMemoTTL},
		deps:      deps,
		blacklist: make(map[string]bool),
	}
	for _, call := range deps.Blacklist {
		p.blacklist[strings.ToUpper(call)] = true
	}
	for _, name := range names {
		kind, ok := kinds[name]
		if !ok {
			return nil, fmt.Errorf("selector %s: unknown kind, have %s",
				name, strings.Join(Kinds(), ", "))
		}
		opts, err := decodeOptions(sections[name])
		if err != nil {
			return nil, fmt.Errorf("selector %s: %w", name, err)
		}
		if opts.LOTWUsersOnly && deps.Operators == nil {
			return nil, fmt.Errorf("selector %s: lotw_users_only set but no operator registry is wired", name)
		}
		match, err := kind(opts, &deps)
		if err != nil {
			return nil, fmt.Errorf("selector %s: %w", name, err)
		}
		p.selectors = append(p.selectors, &selector{name: name, opts: opts, match: match})
	}
	return p, nil
}

// NeedsOperators reports whether any configured selector filters on LOTW
// membership, letting the caller skip the registry fetch entirely.
func NeedsOperators(names []string, sections map[string]*yaml.Node) bool {
	for _, name := range names {
		opts, err := decodeOptions(sections[name])
		if err != nil {
			continue
		}
		if opts.LOTWUsersOnly {
			return true
		}
	}
	return false
}

// Names lists the active selectors in pipeline order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.selectors))
	for i, s := range p.selectors {
		names[i] = s.name
	}
	return names
}

// Pick returns the first candidate any selector accepts on band, along
// with the name of the selector that accepted it. A nil candidate means
// nobody currently heard is worth calling.
func (p *Pipeline) Pick(band int) (*Candidate, string, error) {
	for _, s := range p.selectors {
		cand, err := p.pick(s, band)
		if err != nil {
			return nil, "", err
		}
		if cand != nil {
			return cand, s.name, nil
		}
	}
	return nil, "", nil
}

func (p *Pipeline) pick(s *selector, band int) (*Candidate, error) {
	continent := s.opts.MyContinent
	if continent == "" {
		continent = p.deps.MyContinent
	}
	rows, err := p.cache.candidates(band, s.opts.window(), continent)
	if err != nil {
		return nil, err
	}
	matched := make([]Candidate, 0, len(rows))
	for i := range rows {
		if s.match(&rows[i]) != s.opts.Reverse {
			matched = append(matched, rows[i])
		}
	}
	if s.opts.Debug {
		log.Printf("Selector %s: band %d, %d heard, %d matched", s.name, band, len(rows), len(matched))
	}
	cand := p.selectRecord(s, matched)
	if cand != nil && s.opts.Debug {
		log.Printf("Selector %s: picked %s snr %d coef %.1f", s.name, cand.Call, cand.SNR, cand.Coef)
	}
	return cand, nil
}

// selectRecord applies the common post-filter: strongest signal first,
// inside the open SNR interval, not blacklisted, and when asked for, a
// confirmed operator.
func (p *Pipeline) selectRecord(s *selector, matched []Candidate) *Candidate {
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].SNR > matched[j].SNR
	})
	minSNR, maxSNR := s.opts.minSNR(), s.opts.maxSNR()
	for i := range matched {
		c := &matched[i]
		if c.SNR <= minSNR || c.SNR >= maxSNR {
			continue
		}
		if p.blacklist[strings.ToUpper(c.Call)] {
			if s.opts.Debug {
				log.Printf("Selector %s: %s is blacklisted", s.name, c.Call)
			}
			continue
		}
		if s.opts.LOTWUsersOnly && !p.deps.Operators.Contains(c.Call) {
			if s.opts.Debug {
				log.Printf("Selector %s: %s is not a confirmed operator", s.name, c.Call)
			}
			continue
		}
		out := *c
		return &out
	}
	return nil
}

// Stats reports the fetch cache counters for the console CACHE command.
func (p *Pipeline) Stats() CacheStats {
	return p.cache.stats()
}

// CacheStats describes the candidate-fetch memo.
type CacheStats struct {
	Hits   uint64
	Misses uint64
	Rows   int
	Age    time.Duration
}

func (s CacheStats) String() string {
	return fmt.Sprintf("hits=%d misses=%d rows=%d age=%s",
		s.Hits, s.Misses, s.Rows, s.Age.Round(time.Millisecond))
}

// fetchCache memoizes the last candidate fetch. Successive selectors in
// one pipeline pass ask the same question within milliseconds; the memo
// spares the store a query per selector. The cached slice is shared, so
// callers treat it as read-only.
type fetchCache struct {
	store *spotdb.Store
	ttl   time.Duration

	mu        sync.Mutex
	band      int
	window    time.Duration
	continent string
	fetched   time.Time
	rows      []Candidate
	hits      uint64
	misses    uint64
}

func (f *fetchCache) candidates(band int, window time.Duration, continent string) ([]Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.band == band && f.window == window && f.continent == continent &&
		time.Since(f.fetched) < f.ttl {
		f.hits++
		return f.rows, nil
	}
	f.misses++
	sightings, err := f.store.Candidates(band, time.Now().Add(-window))
	if err != nil {
		return nil, err
	}
	rows := make([]Candidate, 0, len(sightings))
	for _, g := range sightings {
		if g.Extra == "DX" && g.Continent == continent {
			log.Printf("Selector: ignore %s %s calling DX", g.Call, g.Continent)
			continue
		}
		rows = append(rows, Candidate{
			Sighting: g,
			Coef:     g.Distance * math.Pow(10, float64(g.SNR)/10),
		})
	}
	f.band, f.window, f.continent = band, window, continent
	f.fetched = time.Now()
	f.rows = rows
	return rows, nil
}

func (f *fetchCache) stats() CacheStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := CacheStats{Hits: f.hits, Misses: f.misses, Rows: len(f.rows)}
	if !f.fetched.IsZero() {
		stats.Age = time.Since(f.fetched)
	}
	return stats
}
