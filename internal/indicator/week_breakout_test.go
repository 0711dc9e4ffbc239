package indicator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"breakoutbot/internal/markethours"
	"breakoutbot/internal/model"
)

var week1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday

// priorWeek builds one 4h candle series for the week starting at week1,
// ranging between 90 and 110.
func priorWeek() []model.Candle {
	var out []model.Candle
	for i := 0; i < 42; i++ {
		ts := week1.Add(time.Duration(i) * 4 * time.Hour)
		c := model.Candle{Time: ts, Open: 100, High: 101, Low: 99, Close: 100}
		if i == 10 {
			c.High = 110
		}
		if i == 30 {
			c.Low = 90
		}
		out = append(out, c)
	}
	return out
}

func newIndicator() *WeekBreakout {
	return NewWeekBreakout(WeekAnchor{
		Week:      markethours.NewWeek(time.Monday, 0, time.UTC),
		LongRate:  0.25,
		ShortRate: 0.25,
	})
}

func TestWeekBreakout_LevelsFromPriorWeek(t *testing.T) {
	ind := newIndicator()
	history := priorWeek()

	c := model.Candle{Time: week1.AddDate(0, 0, 7), Open: 100, High: 111, Low: 99, Close: 110}
	history = append(history, c)

	st := ind.Update(history, c)
	require.True(t, st.Ready)
	assert.InDelta(t, 110.0, st.PrevHigh, 1e-9)
	assert.InDelta(t, 90.0, st.PrevLow, 1e-9)
	assert.InDelta(t, 100.0, st.WeekOpen, 1e-9)
	assert.InDelta(t, 105.0, st.LongBreak, 1e-9)
	assert.InDelta(t, 95.0, st.ShortBreak, 1e-9)
	assert.True(t, st.WeekStart.Equal(week1.AddDate(0, 0, 7)))
}

func TestWeekBreakout_LevelsFixedWithinWeek(t *testing.T) {
	ind := newIndicator()
	history := priorWeek()

	first := model.Candle{Time: week1.AddDate(0, 0, 7), Open: 100, High: 101, Low: 99, Close: 100}
	history = append(history, first)
	st1 := ind.Update(history, first)

	// A later candle in the same week with a very different open must not
	// move the week open or the levels.
	later := model.Candle{Time: first.Time.Add(30 * time.Hour), Open: 150, High: 160, Low: 140, Close: 155}
	history = append(history, later)
	st2 := ind.Update(history, later)

	assert.Equal(t, st1, st2)
}

func TestWeekBreakout_RecomputesOnNewWeek(t *testing.T) {
	ind := newIndicator()
	history := priorWeek()

	c1 := model.Candle{Time: week1.AddDate(0, 0, 7), Open: 100, High: 120, Low: 80, Close: 100}
	history = append(history, c1)
	ind.Update(history, c1)

	// Fill the rest of week 2 so its range is 80..120.
	for i := 1; i < 42; i++ {
		history = append(history, model.Candle{
			Time: c1.Time.Add(time.Duration(i) * 4 * time.Hour),
			Open: 100, High: 101, Low: 99, Close: 100,
		})
	}

	c3 := model.Candle{Time: week1.AddDate(0, 0, 14), Open: 200, High: 201, Low: 199, Close: 200}
	history = append(history, c3)
	st := ind.Update(history, c3)

	require.True(t, st.Ready)
	assert.InDelta(t, 200.0+40*0.25, st.LongBreak, 1e-9)
	assert.InDelta(t, 200.0-40*0.25, st.ShortBreak, 1e-9)
}

func TestWeekBreakout_NotReadyWithoutPriorWeek(t *testing.T) {
	ind := newIndicator()
	c := model.Candle{Time: week1.Add(5 * time.Hour), Open: 100, High: 101, Low: 99, Close: 100}

	st := ind.Update([]model.Candle{c}, c)
	assert.False(t, st.Ready)
	assert.Zero(t, st.LongBreak)
}

func TestWeekBreakout_DoesNotMutateHistory(t *testing.T) {
	ind := newIndicator()
	history := priorWeek()
	before := make([]model.Candle, len(history))
	copy(before, history)

	c := model.Candle{Time: week1.AddDate(0, 0, 7), Open: 100, Close: 100}
	ind.Update(history, c)

	assert.Equal(t, before, history)
}

func TestWeekBreakout_OffsetWeekStartWindow(t *testing.T) {
	kst := time.FixedZone("KST", 9*3600)
	ind := NewWeekBreakout(WeekAnchor{
		Week:      markethours.NewWeek(time.Monday, 13, kst),
		LongRate:  0.25,
		ShortRate: 0.25,
	})
	at := func(day, hour int) time.Time { return time.Date(2024, 1, day, hour, 0, 0, 0, kst) }

	history := []model.Candle{
		{Time: at(1, 12), Open: 100, High: 500, Low: 1, Close: 100}, // before the prior week
		{Time: at(1, 13), Open: 100, High: 110, Low: 95, Close: 100},
		{Time: at(5, 9), Open: 100, High: 105, Low: 90, Close: 100},
		{Time: at(8, 12), Open: 100, High: 130, Low: 100, Close: 120}, // last prior-week candle
	}
	c := model.Candle{Time: at(8, 13), Open: 120, High: 121, Low: 119, Close: 120}
	history = append(history, c)

	st := ind.Update(history, c)
	require.True(t, st.Ready)
	assert.True(t, st.WeekStart.Equal(at(8, 13)))
	assert.InDelta(t, 130.0, st.PrevHigh, 1e-9)
	assert.InDelta(t, 90.0, st.PrevLow, 1e-9)
	assert.InDelta(t, 130.0, st.LongBreak, 1e-9)
	assert.InDelta(t, 110.0, st.ShortBreak, 1e-9)

	lastHour := model.Candle{Time: at(15, 12), Open: 300, High: 300, Low: 300, Close: 300}
	history = append(history, lastHour)
	assert.Equal(t, st, ind.Update(history, lastHour), "still the same week")

	next := model.Candle{Time: at(15, 13), Open: 300, High: 300, Low: 300, Close: 300}
	history = append(history, next)
	assert.True(t, ind.Update(history, next).WeekStart.Equal(at(15, 13)))
}
