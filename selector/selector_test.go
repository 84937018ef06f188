package selector

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/0x9900/FT8Commander/spotdb"
)

type fakeOperators map[string]bool

func (f fakeOperators) Contains(call string) bool { return f[strings.ToUpper(call)] }

type fakeEntities map[string]bool

func (f fakeEntities) IsEntity(name string) bool { return f[name] }

func testStore(t *testing.T) *spotdb.Store {
	t.Helper()
	store, err := spotdb.Open(filepath.Join(t.TempDir(), "ft8ctrl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func heard(t *testing.T, store *spotdb.Store, call string, mod func(*spotdb.Sighting)) {
	t.Helper()
	g := &spotdb.Sighting{
		Call:      call,
		Time:      time.Now().Unix(),
		SNR:       -10,
		Grid:      "CM87",
		Distance:  1000,
		Country:   "United States",
		Continent: "NA",
		CQZone:    3,
		ITUZone:   6,
		Frequency: 14074000,
		Band:      20,
	}
	if mod != nil {
		mod(g)
	}
	require.NoError(t, store.Upsert(g))
}

func sections(t *testing.T, doc string) map[string]*yaml.Node {
	t.Helper()
	var raw map[string]yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte(doc), &raw))
	out := make(map[string]*yaml.Node, len(raw))
	for name, node := range raw {
		node := node
		out[name] = &node
	}
	return out
}

func pick(t *testing.T, p *Pipeline, band int) (*Candidate, string) {
	t.Helper()
	cand, name, err := p.Pick(band)
	require.NoError(t, err)
	return cand, name
}

func TestAnySkipsDXFromOwnContinent(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W2ABC", func(g *spotdb.Sighting) {
		g.Extra, g.Grid = "DX", "FN20"
	})
	heard(t, store, "PY2XYZ", func(g *spotdb.Sighting) {
		g.Extra, g.Grid = "DX", "GG66"
		g.Country, g.Continent = "Brazil", "SA"
	})

	p, err := New([]string{"Any"}, nil, Deps{Store: store, MyContinent: "NA"})
	require.NoError(t, err)

	cand, name := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "PY2XYZ", cand.Call)
	assert.Equal(t, "Any", name)
}

func TestStrongestSignalFirst(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W1AW", func(g *spotdb.Sighting) { g.SNR = -20 })
	heard(t, store, "K6TU", func(g *spotdb.Sighting) { g.SNR = -5 })
	heard(t, store, "N6KO", func(g *spotdb.Sighting) { g.SNR = -12 })

	p, err := New([]string{"Any"}, nil, Deps{Store: store})
	require.NoError(t, err)

	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "K6TU", cand.Call)
}

func TestSNRBoundsAreExclusive(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W1AW", func(g *spotdb.Sighting) { g.SNR = 50 })
	heard(t, store, "K6TU", func(g *spotdb.Sighting) { g.SNR = -50 })
	heard(t, store, "N6KO", func(g *spotdb.Sighting) { g.SNR = 10 })

	p, err := New([]string{"Any"}, nil, Deps{Store: store})
	require.NoError(t, err)

	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "N6KO", cand.Call)
}

func TestConfiguredSNRBounds(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W1AW", func(g *spotdb.Sighting) { g.SNR = 0 })
	heard(t, store, "K6TU", func(g *spotdb.Sighting) { g.SNR = -15 })

	p, err := New([]string{"Any"}, sections(t, "Any: {max_snr: -5}"),
		Deps{Store: store})
	require.NoError(t, err)

	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "K6TU", cand.Call)
}

func TestBlacklistedCallNeverPicked(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W1AW", func(g *spotdb.Sighting) { g.SNR = 0 })
	heard(t, store, "K6TU", func(g *spotdb.Sighting) { g.SNR = -20 })

	p, err := New([]string{"Any"}, nil, Deps{Store: store, Blacklist: []string{"w1aw"}})
	require.NoError(t, err)

	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "K6TU", cand.Call)
}

func TestLOTWUsersOnly(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W1AW", func(g *spotdb.Sighting) { g.SNR = 0 })
	heard(t, store, "K6TU", func(g *spotdb.Sighting) { g.SNR = -20 })

	p, err := New([]string{"Any"}, sections(t, "Any: {lotw_users_only: true}"),
		Deps{Store: store, Operators: fakeOperators{"K6TU": true}})
	require.NoError(t, err)

	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "K6TU", cand.Call)
}

func TestLOTWWithoutRegistryFails(t *testing.T) {
	store := testStore(t)
	_, err := New([]string{"Any"}, sections(t, "Any: {lotw_users_only: true}"),
		Deps{Store: store})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator registry")
}

func TestContinentAndReverse(t *testing.T) {
	store := testStore(t)
	heard(t, store, "F4BKV", func(g *spotdb.Sighting) {
		g.Country, g.Continent = "France", "EU"
	})
	heard(t, store, "W1AW", nil)

	p, err := New([]string{"Continent"}, sections(t, "Continent: {list: [EU]}"),
		Deps{Store: store})
	require.NoError(t, err)
	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "F4BKV", cand.Call)

	p, err = New([]string{"Continent"}, sections(t, "Continent: {list: [EU], reverse: true}"),
		Deps{Store: store})
	require.NoError(t, err)
	cand, _ = pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "W1AW", cand.Call)
}

func TestContinentRejectsUnknownCode(t *testing.T) {
	store := testStore(t)
	_, err := New([]string{"Continent"}, sections(t, "Continent: {list: [XX]}"),
		Deps{Store: store})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown continent")
}

func TestCallSignRegexpOrList(t *testing.T) {
	store := testStore(t)
	heard(t, store, "F4BKV", func(g *spotdb.Sighting) { g.SNR = -20 })
	heard(t, store, "K6TU", func(g *spotdb.Sighting) { g.SNR = -5 })
	heard(t, store, "W1AW", func(g *spotdb.Sighting) { g.SNR = 0 })

	p, err := New([]string{"CallSign"},
		sections(t, `CallSign: {regexp: "^F", list: [k6tu]}`),
		Deps{Store: store})
	require.NoError(t, err)

	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "K6TU", cand.Call)
}

func TestGridSelector(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W1AW", func(g *spotdb.Sighting) { g.Grid = "FN31" })
	heard(t, store, "K6TU", func(g *spotdb.Sighting) { g.Grid = "CM87" })

	p, err := New([]string{"Grid"}, sections(t, `Grid: {regexp: "^FN"}`),
		Deps{Store: store})
	require.NoError(t, err)
	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "W1AW", cand.Call)

	_, err = New([]string{"Grid"}, nil, Deps{Store: store})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "regexp")
}

func TestCountryValidatedAgainstEntities(t *testing.T) {
	store := testStore(t)
	heard(t, store, "F4BKV", func(g *spotdb.Sighting) {
		g.Country, g.Continent = "France", "EU"
	})
	heard(t, store, "W1AW", nil)

	entities := fakeEntities{"France": true, "Japan": true}
	p, err := New([]string{"Country"}, sections(t, "Country: {list: [France]}"),
		Deps{Store: store, Entities: entities})
	require.NoError(t, err)
	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "F4BKV", cand.Call)

	_, err = New([]string{"Country"}, sections(t, "Country: {list: [Atlantis]}"),
		Deps{Store: store, Entities: entities})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Atlantis")
}

func TestZoneCoercion(t *testing.T) {
	store := testStore(t)
	heard(t, store, "JA1NUT", func(g *spotdb.Sighting) {
		g.Country, g.Continent, g.CQZone = "Japan", "AS", 25
	})
	heard(t, store, "W1AW", func(g *spotdb.Sighting) { g.CQZone = 5 })

	p, err := New([]string{"CQZone"}, sections(t, `CQZone: {list: [25, "14"]}`),
		Deps{Store: store})
	require.NoError(t, err)
	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "JA1NUT", cand.Call)

	_, err = New([]string{"CQZone"}, sections(t, "CQZone: {list: [abc]}"),
		Deps{Store: store})
	require.Error(t, err)
}

func TestITUZoneSelector(t *testing.T) {
	store := testStore(t)
	heard(t, store, "JA1NUT", func(g *spotdb.Sighting) {
		g.Country, g.Continent, g.ITUZone = "Japan", "AS", 45
	})
	heard(t, store, "W1AW", func(g *spotdb.Sighting) { g.ITUZone = 8 })

	p, err := New([]string{"ITUZone"}, sections(t, "ITUZone: {list: [45]}"),
		Deps{Store: store})
	require.NoError(t, err)
	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "JA1NUT", cand.Call)
}

func TestExtraSelector(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W1AW", func(g *spotdb.Sighting) { g.Extra = "POTA" })
	heard(t, store, "K6TU", nil)

	p, err := New([]string{"Extra"}, sections(t, "Extra: {list: [pota]}"),
		Deps{Store: store})
	require.NoError(t, err)
	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "W1AW", cand.Call)
}

func TestDXCC100ChasesNewCountries(t *testing.T) {
	store := testStore(t)
	for _, call := range []string{"F4AAA", "F4BBB"} {
		heard(t, store, call, func(g *spotdb.Sighting) {
			g.Country, g.Continent = "France", "EU"
		})
		require.NoError(t, store.SetStatus(call, 20, spotdb.StatusWorked))
	}
	heard(t, store, "F4CCC", func(g *spotdb.Sighting) {
		g.Country, g.Continent, g.SNR = "France", "EU", 10
	})
	heard(t, store, "JA1NUT", func(g *spotdb.Sighting) {
		g.Country, g.Continent, g.SNR = "Japan", "AS", -20
	})

	p, err := New([]string{"DXCC100"}, nil, Deps{Store: store})
	require.NoError(t, err)
	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "JA1NUT", cand.Call)

	p, err = New([]string{"DXCC100"}, sections(t, "DXCC100: {worked_count: 3}"),
		Deps{Store: store})
	require.NoError(t, err)
	cand, _ = pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "F4CCC", cand.Call)
}

func TestPipelineOrderFirstNonEmptyWins(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W1AW", nil)

	entities := fakeEntities{"France": true}
	p, err := New([]string{"Country", "Any"},
		sections(t, "Country: {list: [France]}"),
		Deps{Store: store, Entities: entities})
	require.NoError(t, err)
	assert.Equal(t, []string{"Country", "Any"}, p.Names())

	cand, name := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "W1AW", cand.Call)
	assert.Equal(t, "Any", name)

	heard(t, store, "F4BKV", func(g *spotdb.Sighting) {
		g.Country, g.Continent = "France", "EU"
	})
	p.cache.ttl = 0
	cand, name = pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "F4BKV", cand.Call)
	assert.Equal(t, "Country", name)
}

func TestUnknownSelectorName(t *testing.T) {
	store := testStore(t)
	_, err := New([]string{"Bogus"}, nil, Deps{Store: store})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown kind")
}

func TestUnknownOptionKeyFails(t *testing.T) {
	store := testStore(t)
	_, err := New([]string{"Any"}, sections(t, "Any: {mini_snr: 1}"),
		Deps{Store: store})
	require.Error(t, err)
}

func TestFetchWindow(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W1AW", func(g *spotdb.Sighting) {
		g.Time = time.Now().Add(-time.Minute).Unix()
	})

	p, err := New([]string{"Any"}, nil, Deps{Store: store})
	require.NoError(t, err)
	cand, _ := pick(t, p, 20)
	assert.Nil(t, cand)

	p, err = New([]string{"Any"}, sections(t, "Any: {delta: 120}"),
		Deps{Store: store})
	require.NoError(t, err)
	cand, _ = pick(t, p, 20)
	require.NotNil(t, cand)
	assert.Equal(t, "W1AW", cand.Call)
}

func TestFetchMemo(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W1AW", nil)

	p, err := New([]string{"Any"}, nil, Deps{Store: store})
	require.NoError(t, err)

	pick(t, p, 20)
	pick(t, p, 20)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, 1, stats.Rows)
}

func TestCoefComputation(t *testing.T) {
	store := testStore(t)
	heard(t, store, "W1AW", func(g *spotdb.Sighting) {
		g.Distance, g.SNR = 5000, -10
	})

	p, err := New([]string{"Any"}, nil, Deps{Store: store})
	require.NoError(t, err)
	cand, _ := pick(t, p, 20)
	require.NotNil(t, cand)
	assert.InDelta(t, 500.0, cand.Coef, 1e-9)
}
