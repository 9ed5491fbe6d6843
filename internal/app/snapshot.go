package app

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"ssv-dashboard-api/internal/store"
)

// SnapshotOptions configure the one-shot snapshot command.
type SnapshotOptions struct {
	Pretty bool
}

// Snapshot runs a single poll cycle and prints the resulting merged state
// as JSON on stdout. Useful for checking credentials and endpoints without
// starting the server.
func (a *App) Snapshot(ctx context.Context, opts SnapshotOptions) error {
	history := store.NewHistory()
	cache := store.NewCache()
	svc := a.newService(history, cache, nil)

	svc.RunCycle(ctx, time.Now().UTC())

	enc := json.NewEncoder(os.Stdout)
	if opts.Pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(cache.Get())
}
