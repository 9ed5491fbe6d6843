package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"ssv-dashboard-api/internal/store"
)

func marketFor(t *testing.T, url string) *Market {
	t.Helper()
	return NewMarket(MarketOptions{
		BaseURL:   url,
		APIKey:    "test-key",
		Symbols:   []string{"ETH", "SSV"},
		Timeout:   time.Second,
		UserAgent: "test",
	}, noopLogger())
}

func TestQuotesMissingCredential(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("缺少 API key 时不应发起请求")
	}))
	defer srv.Close()

	m := NewMarket(MarketOptions{BaseURL: srv.URL, Symbols: []string{"ETH"}}, noopLogger())
	_, err := m.FetchQuotes(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if Classify(err) != store.ErrMissingCredential {
		t.Fatalf("期望 MISSING_CREDENTIAL, 实际 %s", Classify(err))
	}
}

func TestQuotesPreferClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(apiKeyHeader); got != "test-key" {
			t.Errorf("API key header 不正确: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": {
				"ETH": [{
					"symbol": "ETH",
					"total_supply": 120000000,
					"circulating_supply": 120000000,
					"quote": {"USD": {"price": 3100.5, "close": 3000, "last_updated": "2025-07-01T00:00:00Z"}}
				}],
				"SSV": [{
					"symbol": "SSV",
					"quote": {"USD": {"price": 40}}
				}]
			}
		}`))
	}))
	defer srv.Close()

	quotes, err := marketFor(t, srv.URL).FetchQuotes(context.Background())
	if err != nil {
		t.Fatalf("成功响应不应报错: %v", err)
	}

	eth, ok := quotes["ETH"]
	if !ok {
		t.Fatal("ETH quote missing")
	}
	if !eth.PriceUSD.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("应优先使用 close 字段, 期望 3000, 实际 %s", eth.PriceUSD)
	}
	if eth.TotalSupply == nil || !eth.TotalSupply.Equal(decimal.NewFromInt(120000000)) {
		t.Fatalf("total supply 丢失: %+v", eth.TotalSupply)
	}
	want := time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC)
	if !eth.SourceTimestamp.Equal(want) {
		t.Fatalf("source timestamp 不正确: %s", eth.SourceTimestamp)
	}

	ssv, ok := quotes["SSV"]
	if !ok {
		t.Fatal("SSV quote missing")
	}
	if !ssv.PriceUSD.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("缺少 close 时应回退到 price, 实际 %s", ssv.PriceUSD)
	}
}

func TestQuotesSkipNonPositivePrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": {
				"ETH": [{"symbol": "ETH", "quote": {"USD": {"price": -5, "close": 0}}}],
				"SSV": [{"symbol": "SSV", "quote": {"USD": {"price": 40}}}]
			}
		}`))
	}))
	defer srv.Close()

	quotes, err := marketFor(t, srv.URL).FetchQuotes(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := quotes["ETH"]; ok {
		t.Fatal("非正价格不应产生 quote")
	}
	if _, ok := quotes["SSV"]; !ok {
		t.Fatal("一个 symbol 异常不应影响其它 symbol")
	}
}

func TestQuotesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"status": {"error_code": 1008, "error_message": "rate limited"}}`))
	}))
	defer srv.Close()

	_, err := marketFor(t, srv.URL).FetchQuotes(context.Background())
	if err == nil {
		t.Fatal("HTTP 429 应返回错误")
	}
	if Classify(err) != store.ErrFetchFailed {
		t.Fatalf("限流应归类为 FETCH_FAILED, 实际 %s", Classify(err))
	}
}

func TestHistoricalDailyCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("interval"); got != "daily" {
			t.Errorf("interval 参数不正确: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"data": {
				"quotes": [
					{"timestamp": "2025-06-01T00:00:00Z", "quote": {"USD": {"close": 2950}}},
					{"timestamp": "2025-06-02T00:00:00Z", "quote": {"USD": {"close": 3010, "price": 3020}}},
					{"timestamp": "bad-timestamp", "quote": {"USD": {"close": 1}}}
				]
			}
		}`))
	}))
	defer srv.Close()

	points, err := marketFor(t, srv.URL).FetchDailyCloses(context.Background(), "ETH", 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("期望 2 个历史点, 实际 %d", len(points))
	}
	if !points[1].PriceUSD.Equal(decimal.NewFromInt(3010)) {
		t.Fatalf("历史点应取 close, 实际 %s", points[1].PriceUSD)
	}
	wantTs := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	if points[0].TimestampMs != wantTs {
		t.Fatalf("timestamp 解析错误: %d", points[0].TimestampMs)
	}
	if points[0].Synthetic {
		t.Fatal("real backfill points must not be synthetic")
	}
}
