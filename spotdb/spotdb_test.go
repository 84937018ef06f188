package spotdb

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ft8ctrl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sighting(call string, band int) *Sighting {
	return &Sighting{
		Call:      call,
		Time:      time.Now().Unix(),
		SNR:       -10,
		Grid:      "CM87",
		Country:   "United States",
		Continent: "NA",
		CQZone:    3,
		ITUZone:   6,
		Frequency: 14074000,
		Band:      band,
		Packet: Envelope{
			Time:           DateTime{time.Unix(1717245296, 0).UTC()},
			SNR:            -10,
			DeltaTime:      0.2,
			DeltaFrequency: 1270,
			Mode:           "~",
			Message:        "CQ " + call + " CM87",
		},
	}
}

func TestUpsertRefreshesSameCallAndBand(t *testing.T) {
	store := testStore(t)

	first := sighting("W6BSD", 20)
	require.NoError(t, store.Upsert(first))

	second := sighting("W6BSD", 20)
	second.SNR = 5
	second.Packet.SNR = 5
	require.NoError(t, store.Upsert(second))

	rows, err := store.ByStatus(StatusNew, 20)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 5, rows[0].SNR)
	assert.Equal(t, int32(5), rows[0].Packet.SNR)
}

func TestUpsertNewBandIsNewRow(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Upsert(sighting("W6BSD", 20)))
	require.NoError(t, store.Upsert(sighting("W6BSD", 40)))

	rows, err := store.ByStatus(StatusNew, 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestUpsertLeavesWorkedRowAlone(t *testing.T) {
	store := testStore(t)

	first := sighting("F4BKV", 20)
	require.NoError(t, store.Upsert(first))
	require.NoError(t, store.SetStatus("F4BKV", 20, StatusWorked))

	again := sighting("F4BKV", 20)
	again.SNR = 12
	require.NoError(t, store.Upsert(again))

	row, err := store.Get("F4BKV", 20)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, StatusWorked, row.Status)
	assert.Equal(t, -10, row.SNR)
}

func TestSetStatusNeverDemotesWorked(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Upsert(sighting("JA1NUT", 20)))
	require.NoError(t, store.SetStatus("JA1NUT", 20, StatusWorked))
	require.NoError(t, store.SetStatus("JA1NUT", 20, StatusNew))

	row, err := store.Get("JA1NUT", 20)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, StatusWorked, row.Status)
}

func TestDeleteOnlyRemovesCalledRows(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Upsert(sighting("VK3IO", 20)))
	require.NoError(t, store.Delete("VK3IO", 20))
	row, err := store.Get("VK3IO", 20)
	require.NoError(t, err)
	assert.NotNil(t, row, "new row must survive a delete")

	require.NoError(t, store.SetStatus("VK3IO", 20, StatusCalled))
	require.NoError(t, store.Delete("VK3IO", 20))
	row, err = store.Get("VK3IO", 20)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestPurgeOlderKeepsWorkedRows(t *testing.T) {
	store := testStore(t)

	stale := sighting("G4ELZ", 20)
	stale.Time = time.Now().Add(-2 * time.Hour).Unix()
	require.NoError(t, store.Upsert(stale))

	worked := sighting("PY2XB", 20)
	worked.Time = time.Now().Add(-2 * time.Hour).Unix()
	require.NoError(t, store.Upsert(worked))
	require.NoError(t, store.SetStatus("PY2XB", 20, StatusWorked))

	fresh := sighting("K6TU", 20)
	require.NoError(t, store.Upsert(fresh))

	n, err := store.PurgeOlder(45 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	row, err := store.Get("G4ELZ", 20)
	require.NoError(t, err)
	assert.Nil(t, row)
	row, err = store.Get("PY2XB", 20)
	require.NoError(t, err)
	assert.NotNil(t, row)
	row, err = store.Get("K6TU", 20)
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestCandidatesWindowAndOrder(t *testing.T) {
	store := testStore(t)

	old := sighting("LU8EX", 20)
	old.Time = time.Now().Add(-5 * time.Minute).Unix()
	require.NoError(t, store.Upsert(old))

	second := sighting("ZL2IFB", 20)
	second.Time = time.Now().Add(-10 * time.Second).Unix()
	require.NoError(t, store.Upsert(second))

	third := sighting("KH6CW", 20)
	third.Time = time.Now().Add(-2 * time.Second).Unix()
	require.NoError(t, store.Upsert(third))

	called := sighting("EA8DED", 20)
	called.Time = time.Now().Unix()
	require.NoError(t, store.Upsert(called))
	require.NoError(t, store.SetStatus("EA8DED", 20, StatusCalled))

	otherBand := sighting("CT1BOH", 40)
	require.NoError(t, store.Upsert(otherBand))

	rows, err := store.Candidates(20, time.Now().Add(-29*time.Second))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ZL2IFB", rows[0].Call)
	assert.Equal(t, "KH6CW", rows[1].Call)
}

func TestByCallRegexp(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Upsert(sighting("W6BSD", 20)))
	require.NoError(t, store.Upsert(sighting("W6BSD", 40)))
	require.NoError(t, store.Upsert(sighting("W1AW", 20)))
	require.NoError(t, store.Upsert(sighting("KW6A", 20)))

	rows, err := store.ByCallRegexp("^W6", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = store.ByCallRegexp("^W6", 20)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 20, rows[0].Band)

	_, err = store.ByCallRegexp("(", 0)
	assert.Error(t, err, "a broken pattern must surface, not match nothing")
}

func TestByCountryAndWorkedCount(t *testing.T) {
	store := testStore(t)

	a := sighting("F4BKV", 20)
	a.Country = "France"
	require.NoError(t, store.Upsert(a))
	require.NoError(t, store.SetStatus("F4BKV", 20, StatusWorked))

	b := sighting("F5IN", 20)
	b.Country = "France"
	require.NoError(t, store.Upsert(b))

	c := sighting("F6ARC", 40)
	c.Country = "France"
	require.NoError(t, store.Upsert(c))
	require.NoError(t, store.SetStatus("F6ARC", 40, StatusWorked))

	rows, err := store.ByCountry("France", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	n, err := store.WorkedCount("France", 20)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = store.WorkedCount("Spain", 20)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEnvelopeSurvivesStorage(t *testing.T) {
	store := testStore(t)

	in := sighting("JA1NUT", 20)
	in.Packet.LowConfidence = true
	require.NoError(t, store.Upsert(in))

	row, err := store.Get("JA1NUT", 20)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, in.Packet, row.Packet)
}

func TestBand(t *testing.T) {
	cases := []struct {
		freq uint64
		band int
	}{
		{1840000, 160},
		{3573000, 80},
		{7074000, 40},
		{10136000, 30},
		{14074000, 20},
		{18100000, 17},
		{21074000, 15},
		{24915000, 12},
		{28074000, 10},
		{50313000, 6},
		{144174000, 0},
		{432065000, 0},
		{0, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.band, Band(tc.freq), "freq %d", tc.freq)
	}
}
