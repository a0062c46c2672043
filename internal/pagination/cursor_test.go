package pagination

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	id string
	at time.Time
}

func rowKey(r row) (time.Time, string) { return r.at, r.id }

func TestEncodeDecode(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 123, time.UTC)

	c, err := Decode(Encode(ts, "alrt_abc|def"))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, ts, c.CreatedAt)
	assert.Equal(t, "alrt_abc|def", c.ID, "ids may contain the separator")
}

func TestDecode_Empty(t *testing.T) {
	c, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestDecode_Invalid(t *testing.T) {
	for _, in := range []string{"not-base64!!!", "bm9waXBl", "YWJjfHg"} {
		_, err := Decode(in)
		assert.True(t, errors.Is(err, ErrInvalidCursor), in)
	}
}

func TestNewPage(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []row{{"d", base.Add(3)}, {"c", base.Add(2)}, {"b", base.Add(1)}, {"a", base}}

	p := NewPage(rows, 3, rowKey)
	assert.Len(t, p.Items, 3)
	assert.True(t, p.HasMore)

	c, err := Decode(p.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)
	assert.Equal(t, base.Add(1), c.CreatedAt)

	exact := NewPage(rows[:3], 3, rowKey)
	assert.False(t, exact.HasMore)
	assert.Empty(t, exact.NextCursor)

	empty := NewPage[row](nil, 3, rowKey)
	assert.NotNil(t, empty.Items)
	assert.False(t, empty.HasMore)
}
