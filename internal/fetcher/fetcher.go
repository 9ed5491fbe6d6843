package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"ssv-dashboard-api/internal/store"
)

// defaultTimeout bounds every outbound call unless configured otherwise.
const defaultTimeout = 10 * time.Second

// SourceFault tags an adapter failure with its taxonomy code so the
// orchestrator can file it into the right snapshot error slot.
type SourceFault struct {
	Code store.ErrorCode
	Err  error
}

func (f *SourceFault) Error() string {
	if f.Err == nil {
		return string(f.Code)
	}
	return fmt.Sprintf("%s: %v", f.Code, f.Err)
}

func (f *SourceFault) Unwrap() error { return f.Err }

// Fault wraps err with a taxonomy code.
func Fault(code store.ErrorCode, err error) *SourceFault {
	return &SourceFault{Code: code, Err: err}
}

// Faultf builds a coded fault from a format string.
func Faultf(code store.ErrorCode, format string, args ...any) *SourceFault {
	return &SourceFault{Code: code, Err: fmt.Errorf(format, args...)}
}

// Classify extracts the taxonomy code from err; anything untagged is a
// transient fetch failure.
func Classify(err error) store.ErrorCode {
	var fault *SourceFault
	if errors.As(err, &fault) {
		return fault.Code
	}
	return store.ErrFetchFailed
}

// QuoteFetcher retrieves live market quotes for the configured symbols.
type QuoteFetcher interface {
	FetchQuotes(ctx context.Context) (map[string]store.PriceQuote, error)
}

// HistoricalFetcher retrieves up to count daily closes for one symbol.
type HistoricalFetcher interface {
	FetchDailyCloses(ctx context.Context, symbol string, count int) ([]store.HistoryPoint, error)
}

// StakingAprFetcher retrieves the beacon-chain staking yield sample.
type StakingAprFetcher interface {
	FetchStakingApr(ctx context.Context) (*store.StakingAprSample, error)
}

// StakedEthFetcher retrieves the network-wide staked total.
type StakedEthFetcher interface {
	FetchStakedEth(ctx context.Context) (*store.StakedEthSample, error)
}

// NetworkFeeFetcher reads and decodes the on-chain network fee.
type NetworkFeeFetcher interface {
	FetchNetworkFee(ctx context.Context) (*store.NetworkFeeSample, error)
}

// fetchBody GETs url and returns the response body, mapping transport and
// status problems to FETCH_FAILED faults.
func fetchBody(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, Fault(store.ErrFetchFailed, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, Fault(store.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Fault(store.ErrFetchFailed, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		if len(payload) > 0 {
			return nil, Faultf(store.ErrFetchFailed, "upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		}
		return nil, Faultf(store.ErrFetchFailed, "upstream status %d", resp.StatusCode)
	}
	return payload, nil
}
