package store

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// RetentionDays bounds how far back history points are kept.
	RetentionDays = 30

	// windowSpanDays: window start = end − 29 days, 30 calendar days inclusive.
	windowSpanDays = 29
)

var (
	maxGapMs = int64(36 * time.Hour / time.Millisecond)
	dayMs    = int64(24 * time.Hour / time.Millisecond)
)

// History holds the bounded per-symbol price series. Safe for concurrent use.
type History struct {
	mu     sync.Mutex
	series map[string][]HistoryPoint
	seeded map[string]bool
}

// NewHistory constructs an empty history store.
func NewHistory() *History {
	return &History{
		series: make(map[string][]HistoryPoint),
		seeded: make(map[string]bool),
	}
}

// Append stores one point, keeping the series ordered, then prunes points
// older than the retention window relative to now.
func (h *History) Append(symbol string, point HistoryPoint, now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	points := append(h.series[symbol], point)
	if n := len(points); n > 1 && points[n-1].TimestampMs < points[n-2].TimestampMs {
		sort.Slice(points, func(i, j int) bool {
			return points[i].TimestampMs < points[j].TimestampMs
		})
	}
	h.series[symbol] = pruneOld(points, now)
}

func pruneOld(points []HistoryPoint, now time.Time) []HistoryPoint {
	cutoff := now.Add(-RetentionDays * 24 * time.Hour).UnixMilli()
	idx := sort.Search(len(points), func(i int) bool {
		return points[i].TimestampMs >= cutoff
	})
	if idx == 0 {
		return points
	}
	kept := make([]HistoryPoint, len(points)-idx)
	copy(kept, points[idx:])
	return kept
}

// Points returns a copy of the stored series for symbol, oldest first.
func (h *History) Points(symbol string) []HistoryPoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	points := h.series[symbol]
	out := make([]HistoryPoint, len(points))
	copy(out, points)
	return out
}

// Len reports how many points are stored for symbol.
func (h *History) Len(symbol string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.series[symbol])
}

// Latest returns the newest stored point for symbol.
func (h *History) Latest(symbol string) (HistoryPoint, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	points := h.series[symbol]
	if len(points) == 0 {
		return HistoryPoint{}, false
	}
	return points[len(points)-1], true
}

// Seeded reports whether the one-time backfill already ran for symbol.
func (h *History) Seeded(symbol string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.seeded[symbol]
}

// MarkSeeded records that the backfill completed for symbol.
func (h *History) MarkSeeded(symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seeded[symbol] = true
}

// Window computes the calendar-aligned averaging window for symbol.
//
// The reference time is the newest stored point, falling back to wallClock
// for an empty series. The window always covers a completed span: its end is
// the last day of the UTC month before the reference and its start is 29
// days earlier, so the average does not drift with every poll. StartDate and
// EndDate are the calendar bounds; DaysSpan measures the actual first-to-last
// sample distance inside them.
func (h *History) Window(symbol string, wallClock time.Time) CalendarWindow {
	h.mu.Lock()
	defer h.mu.Unlock()

	points := h.series[symbol]

	reference := wallClock.UTC()
	if n := len(points); n > 0 {
		reference = time.UnixMilli(points[n-1].TimestampMs).UTC()
	}

	firstOfMonth := time.Date(reference.Year(), reference.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := firstOfMonth.AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -windowSpanDays)

	w := CalendarWindow{StartDate: start, EndDate: end}

	// The end day counts in full.
	from := start.UnixMilli()
	until := end.AddDate(0, 0, 1).UnixMilli()

	var (
		sum   decimal.Decimal
		first int64
		prev  int64
	)
	for _, p := range points {
		if p.TimestampMs < from || p.TimestampMs >= until {
			continue
		}
		if w.Count == 0 {
			first = p.TimestampMs
		} else if p.TimestampMs-prev > maxGapMs {
			w.HasGap = true
		}
		prev = p.TimestampMs
		sum = sum.Add(p.PriceUSD)
		if p.Synthetic {
			w.SyntheticCount++
		}
		w.Count++
	}

	if w.Count > 0 {
		w.Avg = sum.Div(decimal.NewFromInt(int64(w.Count)))
		w.DaysSpan = float64(prev-first) / float64(dayMs)
	}
	return w
}
