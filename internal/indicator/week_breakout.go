package indicator

import (
	"math"

	"breakoutbot/internal/markethours"
	"breakoutbot/internal/model"
)

// WeekAnchor configures the weekly breakout levels.
type WeekAnchor struct {
	Week      markethours.Week
	LongRate  float64 // fraction of the prior week's range added to the week open
	ShortRate float64 // fraction of the prior week's range subtracted from the week open
}

// WeekBreakout computes long/short breakout levels anchored to the most
// recent week boundary. Levels are fixed for the whole week: the prior
// week's high/low range is scaled by the rates and applied to the current
// week's opening price.
//
// Not safe for concurrent use; the feed delivers one candle at a time.
type WeekBreakout struct {
	anchor WeekAnchor
	state  model.IndicatorState
}

// NewWeekBreakout creates the indicator for the given anchor.
func NewWeekBreakout(anchor WeekAnchor) *WeekBreakout {
	return &WeekBreakout{anchor: anchor}
}

func (w *WeekBreakout) Name() string { return "WEEK_BREAKOUT" }

// Update returns the break levels valid for candle c. history is ascending
// and may already contain c. The window is recomputed only when c belongs
// to a week other than the cached one; history is never modified.
func (w *WeekBreakout) Update(history []model.Candle, c model.Candle) model.IndicatorState {
	if w.state.Ready && w.anchor.Week.SameWeek(w.state.WeekStart, c.Time) {
		return w.state
	}
	w.state = w.compute(history, c)
	return w.state
}

// State returns the last computed levels.
func (w *WeekBreakout) State() model.IndicatorState { return w.state }

func (w *WeekBreakout) compute(history []model.Candle, c model.Candle) model.IndicatorState {
	weekStart := w.anchor.Week.Start(c.Time)
	prevStart := w.anchor.Week.Previous(c.Time)

	high := math.Inf(-1)
	low := math.Inf(1)
	weekOpen := c.Open
	openFound := false
	prevFound := false

	for i := range history {
		h := &history[i]
		switch {
		case h.Time.Before(prevStart):
			continue
		case h.Time.Before(weekStart):
			prevFound = true
			if h.High > high {
				high = h.High
			}
			if h.Low < low {
				low = h.Low
			}
		case !openFound && !h.Time.After(c.Time):
			weekOpen = h.Open
			openFound = true
		}
	}

	st := model.IndicatorState{
		WeekStart: weekStart,
		WeekOpen:  weekOpen,
	}
	if !prevFound {
		return st
	}

	rng := high - low
	st.PrevHigh = high
	st.PrevLow = low
	st.LongBreak = weekOpen + rng*w.anchor.LongRate
	st.ShortBreak = weekOpen - rng*w.anchor.ShortRate
	st.Ready = true
	return st
}
