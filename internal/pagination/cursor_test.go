package pagination

import (
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Encoded(t *testing.T) {
	at := time.Date(2026, 3, 1, 10, 0, 0, 123, time.UTC)

	c, ok, err := Decode(Encode(Cursor{At: at, ID: "abc"}))

	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, at.Equal(c.At))
	assert.Equal(t, "abc", c.ID)
}

func TestDecode_Empty(t *testing.T) {
	_, ok, err := Decode("")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecode_Garbage(t *testing.T) {
	_, _, err := Decode("%%%")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCursor_After(t *testing.T) {
	at := time.Unix(100, 0)
	c := Cursor{At: at, ID: "m"}

	assert.True(t, c.After(time.Unix(99, 0), "z"))
	assert.True(t, c.After(at, "a"))
	assert.False(t, c.After(at, "m"))
	assert.False(t, c.After(time.Unix(101, 0), "a"))
}

func TestSlice(t *testing.T) {
	items := []int{5, 4, 3}
	key := func(i int) Cursor { return Cursor{At: time.Unix(int64(i), 0), ID: "x"} }

	out, page := Slice(items, 2, key)
	assert.Equal(t, []int{5, 4}, out)
	assert.True(t, page.HasMore)
	assert.NotEmpty(t, page.NextCursor)

	out, page = Slice(items, 3, key)
	assert.Len(t, out, 3)
	assert.False(t, page.HasMore)
}

func TestParams_Normalize(t *testing.T) {
	assert.Equal(t, DefaultLimit, Params{}.Normalize().Limit)
	assert.Equal(t, MaxLimit, Params{Limit: 1000}.Normalize().Limit)
	assert.Equal(t, 7, Params{Limit: 7}.Normalize().Limit)
}
