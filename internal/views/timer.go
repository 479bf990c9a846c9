package views

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JohanCodinha/jtime/internal/cache"
)

// TimerState is the running timer with its elapsed time at one instant.
// Running is nil when no timer runs.
type TimerState struct {
	Running *cache.ActiveWorklog
	Elapsed time.Duration
}

// LiveTimer emits the timer state whenever the running timer changes and on
// every tick while one runs. Elapsed time is computed here and never stored.
func LiveTimer(ctx context.Context, db *cache.DB, interval time.Duration, now func() time.Time) <-chan TimerState {
	if now == nil {
		now = time.Now
	}
	out := make(chan TimerState)

	go func() {
		defer close(out)

		active := ActiveWorklog(ctx, db)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var running *cache.ActiveWorklog
		emit := func() bool {
			state := TimerState{Running: running}
			if running != nil {
				state.Elapsed = max(now().Sub(running.From), 0)
			}
			select {
			case out <- state:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case aw, ok := <-active:
				if !ok {
					return
				}
				running = aw
				if !emit() {
					return
				}
			case <-ticker.C:
				if running == nil {
					continue
				}
				if !emit() {
					return
				}
			}
		}
	}()

	return out
}

// FormatDuration renders d as e.g. "1h 2m 3s", omitting zero units and
// truncating fractions of a second. Zero renders as "0s".
func FormatDuration(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	d = d.Truncate(time.Second)
	h := int64(d / time.Hour)
	m := int64(d % time.Hour / time.Minute)
	s := int64(d % time.Minute / time.Second)

	var parts []string
	if h > 0 {
		parts = append(parts, fmt.Sprintf("%dh", h))
	}
	if m > 0 {
		parts = append(parts, fmt.Sprintf("%dm", m))
	}
	if s > 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprintf("%ds", s))
	}
	return sign + strings.Join(parts, " ")
}
