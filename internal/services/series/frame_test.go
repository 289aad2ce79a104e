package series

import (
	"errors"
	"testing"
	"time"

	"RSIndex/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time { return time.Date(2024, 1, n, 0, 0, 0, 0, time.UTC) }

func px(id string, d time.Time, close float64) models.PricePoint {
	return models.PricePoint{
		InstrumentID: id,
		Date:         d,
		Close:        decimal.NewNullDecimal(decimal.NewFromFloat(close)),
	}
}

func TestNewFrameBuildsCalendarFromUnion(t *testing.T) {
	rows := []models.PricePoint{
		px("B", day(3), 10),
		px("A", day(2), 5),
		px("A", day(4), 6),
		{InstrumentID: "B", Date: day(4)}, // null close
	}
	f, err := NewFrame(rows, nil)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{day(2), day(3), day(4)}, f.Dates())
	assert.Equal(t, []string{"A", "B"}, f.Instruments())

	_, ok := f.Close("A", 1)
	assert.False(t, ok, "A did not trade on day 3")
	_, ok = f.Close("B", 2)
	assert.False(t, ok, "null close stays undefined")
	v, ok := f.Close("A", 2)
	require.True(t, ok)
	assert.Equal(t, 6.0, v)

	series := f.CloseSeries("A")
	require.Len(t, series, 2)
	assert.Equal(t, 0, series[0].DateIndex)
	assert.Equal(t, 2, series[1].DateIndex)
}

func TestNewFrameRejectsMalformedRows(t *testing.T) {
	_, err := NewFrame([]models.PricePoint{px("A", day(2), -1)}, nil)
	assert.True(t, errors.Is(err, models.ErrUpstreamData))

	bad := models.PricePoint{InstrumentID: "A", Date: day(2), TradingValue: decimal.NewNullDecimal(decimal.NewFromInt(-5))}
	_, err = NewFrame([]models.PricePoint{bad}, nil)
	assert.True(t, errors.Is(err, models.ErrUpstreamData))
}

func TestFrameDateLookup(t *testing.T) {
	f, err := NewFrame([]models.PricePoint{px("A", day(2), 1), px("A", day(5), 1)}, []time.Time{day(3)})
	require.NoError(t, err)

	assert.Equal(t, 3, f.Len())
	assert.Equal(t, -1, f.IndexAtOrBefore(day(1)))
	assert.Equal(t, 1, f.IndexAtOrBefore(day(4)))
	assert.Equal(t, 2, f.IndexAtOrAfter(day(4)))
	assert.Equal(t, 3, f.IndexAtOrAfter(day(6)))

	i, ok := f.DateIndex(time.Date(2024, 1, 5, 15, 30, 0, 0, time.UTC))
	assert.True(t, ok)
	assert.Equal(t, 2, i)
}
