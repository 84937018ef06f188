package selector

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var continents = map[string]bool{
	"AF": true, "AS": true, "EU": true, "NA": true, "OC": true, "SA": true,
}

// kindFunc builds the matching predicate for one selector kind. The
// registry below is the closed set of kinds a configuration may name.
type kindFunc func(opts *Options, deps *Deps) (matchFunc, error)

var kinds = map[string]kindFunc{
	"Any":       newAny,
	"CallSign":  newCallSign,
	"Grid":      newGrid,
	"Continent": newContinent,
	"Country":   newCountry,
	"CQZone":    newCQZone,
	"ITUZone":   newITUZone,
	"Extra":     newExtra,
	"DXCC100":   newDXCC100,
}

// IsKind reports whether name is a registered selector kind.
func IsKind(name string) bool {
	_, ok := kinds[name]
	return ok
}

// Kinds lists every selector kind the registry knows, sorted.
func Kinds() []string {
	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newAny(*Options, *Deps) (matchFunc, error) {
	return func(*Candidate) bool { return true }, nil
}

func newCallSign(opts *Options, _ *Deps) (matchFunc, error) {
	var re *regexp.Regexp
	if opts.Regexp != "" {
		var err error
		if re, err = regexp.Compile(opts.Regexp); err != nil {
			return nil, fmt.Errorf("regexp: %w", err)
		}
	}
	list, err := stringList(opts.List)
	if err != nil {
		return nil, err
	}
	calls := make(map[string]bool, len(list))
	for _, call := range list {
		calls[strings.ToUpper(call)] = true
	}
	return func(c *Candidate) bool {
		if re != nil && re.MatchString(c.Call) {
			return true
		}
		return calls[strings.ToUpper(c.Call)]
	}, nil
}

func newGrid(opts *Options, _ *Deps) (matchFunc, error) {
	if opts.Regexp == "" {
		return nil, errors.New("needs a regexp")
	}
	re, err := regexp.Compile(opts.Regexp)
	if err != nil {
		return nil, fmt.Errorf("regexp: %w", err)
	}
	return func(c *Candidate) bool { return re.MatchString(c.Grid) }, nil
}

func newContinent(opts *Options, _ *Deps) (matchFunc, error) {
	list, err := stringList(opts.List)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("needs a list of continents")
	}
	set := make(map[string]bool, len(list))
	for _, cont := range list {
		cont = strings.ToUpper(cont)
		if !continents[cont] {
			return nil, fmt.Errorf("unknown continent %q", cont)
		}
		set[cont] = true
	}
	return func(c *Candidate) bool { return set[c.Continent] }, nil
}

func newCountry(opts *Options, deps *Deps) (matchFunc, error) {
	list, err := stringList(opts.List)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("needs a list of countries")
	}
	if deps.Entities == nil {
		return nil, errors.New("no prefix database is wired")
	}
	set := make(map[string]bool, len(list))
	for _, country := range list {
		if !deps.Entities.IsEntity(country) {
			return nil, fmt.Errorf("unknown country %q", country)
		}
		set[country] = true
	}
	return func(c *Candidate) bool { return set[c.Country] }, nil
}

func newCQZone(opts *Options, _ *Deps) (matchFunc, error) {
	set, err := zoneSet(opts.List)
	if err != nil {
		return nil, err
	}
	return func(c *Candidate) bool { return set[c.CQZone] }, nil
}

func newITUZone(opts *Options, _ *Deps) (matchFunc, error) {
	set, err := zoneSet(opts.List)
	if err != nil {
		return nil, err
	}
	return func(c *Candidate) bool { return set[c.ITUZone] }, nil
}

func newExtra(opts *Options, _ *Deps) (matchFunc, error) {
	list, err := stringList(opts.List)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New("needs a list of extra tags")
	}
	set := make(map[string]bool, len(list))
	for _, extra := range list {
		set[strings.ToUpper(extra)] = true
	}
	return func(c *Candidate) bool { return set[strings.ToUpper(c.Extra)] }, nil
}

// newDXCC100 chases new countries: a candidate matches until its country
// was worked often enough on the candidate's band.
func newDXCC100(opts *Options, deps *Deps) (matchFunc, error) {
	limit := opts.workedCount()
	store := deps.Store
	return func(c *Candidate) bool {
		if c.Country == "" {
			return false
		}
		n, err := store.WorkedCount(c.Country, c.Band)
		if err != nil {
			log.Printf("Selector DXCC100: %s: %v", c.Country, err)
			return false
		}
		return n < limit
	}, nil
}

// stringList coerces a configured list into strings. Numbers come back
// in decimal form.
func stringList(list []any) ([]string, error) {
	out := make([]string, 0, len(list))
	for _, v := range list {
		switch v := v.(type) {
		case string:
			out = append(out, v)
		case int:
			out = append(out, strconv.Itoa(v))
		default:
			return nil, fmt.Errorf("list value %v (%T) is not a string", v, v)
		}
	}
	return out, nil
}

// zoneSet coerces a configured list into zone numbers, accepting both
// integers and their string form.
func zoneSet(list []any) (map[int]bool, error) {
	if len(list) == 0 {
		return nil, errors.New("needs a list of zones")
	}
	set := make(map[int]bool, len(list))
	for _, v := range list {
		switch v := v.(type) {
		case int:
			set[v] = true
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("list value %q is not a zone number", v)
			}
			set[n] = true
		default:
			return nil, fmt.Errorf("list value %v (%T) is not a zone number", v, v)
		}
	}
	return set, nil
}
