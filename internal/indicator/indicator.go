// Package indicator provides the weekly breakout indicator.
//
// The indicator turns the candle history into the reference prices the
// strategy trades against. It is a pure computation over the history it is
// handed, apart from caching the levels of the current week.
package indicator
