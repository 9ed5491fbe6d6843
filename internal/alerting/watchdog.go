package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ssv-dashboard-api/internal/metrics"
	"ssv-dashboard-api/internal/store"
)

// WatchdogOptions tune when the watchdog escalates.
type WatchdogOptions struct {
	// FailureThreshold is how many consecutive all-failed cycles trigger an
	// alert. Zero disables streak alerts.
	FailureThreshold int
	// Cooldown throttles repeat alerts while a streak persists.
	Cooldown time.Duration
}

// Watchdog turns poll-cycle outcomes into operational alerts. It is called
// from within the single-flight poll cycle, so it needs no locking. A nil
// *Watchdog is valid and does nothing.
type Watchdog struct {
	opts     WatchdogOptions
	notifier Notifier
	logger   zerolog.Logger

	consecutive int
	alerted     bool
	lastSent    time.Time
	notedSlots  map[string]store.ErrorCode
}

// NewWatchdog constructs the watchdog.
func NewWatchdog(opts WatchdogOptions, notifier Notifier, logger zerolog.Logger) *Watchdog {
	return &Watchdog{
		opts:       opts,
		notifier:   notifier,
		logger:     logger.With().Str("component", "watchdog").Logger(),
		notedSlots: make(map[string]store.ErrorCode),
	}
}

// ObserveCycle records one finished poll cycle. A cycle with zero successful
// adapters extends the failure streak; any success ends it and, if an alert
// went out, sends a recovery notice.
func (w *Watchdog) ObserveCycle(ctx context.Context, succeeded, total int, at time.Time) {
	if w == nil {
		return
	}

	if succeeded > 0 {
		if w.alerted {
			w.send(ctx, Notification{
				Kind:    KindRecovered,
				Subject: "数据源恢复",
				Detail:  fmt.Sprintf("%d/%d adapters succeeded after %d failed cycles", succeeded, total, w.consecutive),
				At:      at,
			})
		}
		w.consecutive = 0
		w.alerted = false
		return
	}

	w.consecutive++
	if w.opts.FailureThreshold <= 0 || w.consecutive < w.opts.FailureThreshold {
		return
	}
	if !w.lastSent.IsZero() && at.Sub(w.lastSent) < w.opts.Cooldown {
		return
	}

	w.send(ctx, Notification{
		Kind:    KindCycleFailures,
		Subject: "所有数据源连续失败",
		Detail:  fmt.Sprintf("%d consecutive cycles with zero successful adapters", w.consecutive),
		At:      at,
	})
	w.alerted = true
	w.lastSent = at
}

// ObserveConfigError escalates a permanent misconfiguration once per slot.
func (w *Watchdog) ObserveConfigError(ctx context.Context, slot string, code store.ErrorCode, detail string, at time.Time) {
	if w == nil {
		return
	}
	if _, seen := w.notedSlots[slot]; seen {
		return
	}
	w.notedSlots[slot] = code

	w.send(ctx, Notification{
		Kind:    KindConfigError,
		Subject: fmt.Sprintf("数据源配置缺失: %s (%s)", slot, code),
		Detail:  detail,
		At:      at,
	})
}

func (w *Watchdog) send(ctx context.Context, note Notification) {
	if w.notifier == nil {
		return
	}
	if err := w.notifier.Notify(ctx, note); err != nil {
		metrics.AlertsFailedTotal.WithLabelValues(note.Kind).Inc()
		w.logger.Error().Err(err).Str("kind", note.Kind).Msg("告警发送失败")
		return
	}
	metrics.AlertsSentTotal.WithLabelValues(note.Kind).Inc()
}
