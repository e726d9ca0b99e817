package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	at time.Time
	id string
}

func rowKey(r row) (time.Time, string) { return r.at, r.id }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	c, err := Decode(Encode(at, "INV-2026-001"))
	require.NoError(t, err)
	assert.True(t, c.At.Equal(at))
	assert.Equal(t, "INV-2026-001", c.ID)
}

func TestDecode_Invalid(t *testing.T) {
	c, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, c)

	for _, bad := range []string{"!!!", "bm90LWEtY3Vyc29y", Encode(time.Now(), "")} {
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrInvalidCursor, bad)
	}
}

func TestParseLimit(t *testing.T) {
	n, err := ParseLimit("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLimit, n)

	n, err = ParseLimit("10")
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	n, err = ParseLimit("5000")
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, n)

	for _, bad := range []string{"0", "-1", "ten"} {
		_, err := ParseLimit(bad)
		assert.ErrorIs(t, err, ErrInvalidLimit, bad)
	}
}

func TestPage_WalksAllItems(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2026, 1, d, 0, 0, 0, 0, time.UTC) }
	// Newest first, with a tie on day 10 broken by id descending.
	items := []row{{day(12), "c"}, {day(10), "b2"}, {day(10), "b1"}, {day(3), "a"}}

	var seen []string
	var after *Cursor
	for pages := 0; pages < 10; pages++ {
		page, next := Page(items, after, 2, rowKey)
		for _, r := range page {
			seen = append(seen, r.id)
		}
		if next == "" {
			break
		}
		var err error
		after, err = Decode(next)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"c", "b2", "b1", "a"}, seen)
}

func TestPage_CursorPastEnd(t *testing.T) {
	items := []row{{time.Unix(100, 0), "x"}}
	page, next := Page(items, &Cursor{At: time.Unix(50, 0), ID: "z"}, 10, rowKey)
	assert.Empty(t, page)
	assert.Empty(t, next)
}
