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

func fetchStaked(t *testing.T, body string) *store.StakedEthSample {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	s := NewStaked(StakedOptions{URL: srv.URL, Timeout: time.Second}, noopLogger())
	sample, err := s.FetchStakedEth(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return sample
}

func TestStakedEthMissingProvider(t *testing.T) {
	s := NewStaked(StakedOptions{}, noopLogger())
	_, err := s.FetchStakedEth(context.Background())
	if err == nil {
		t.Fatal("未配置 URL 应报错")
	}
	if Classify(err) != store.ErrMissingProvider {
		t.Fatalf("期望 MISSING_PROVIDER, 实际 %s", Classify(err))
	}
}

func TestStakedEthGweiConversion(t *testing.T) {
	// gwei totals exceed float64 integer precision; must survive exactly
	sample := fetchStaked(t, `35000123456789012`)
	if sample == nil {
		t.Fatal("expected a sample")
	}
	want := decimal.RequireFromString("35000123.456789012")
	if !sample.ValueEth.Equal(want) {
		t.Fatalf("gwei 换算错误: 期望 %s, 实际 %s", want, sample.ValueEth)
	}
}

func TestStakedEthWrappedShapes(t *testing.T) {
	sample := fetchStaked(t, `{"data": 1000000000}`)
	if sample == nil || !sample.ValueEth.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("data 包装解析失败: %+v", sample)
	}

	sample = fetchStaked(t, `{"data": {"amount": 2000000000}}`)
	if sample == nil || !sample.ValueEth.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("data.amount 包装解析失败: %+v", sample)
	}
}

func TestStakedEthNonNumericYieldsNil(t *testing.T) {
	for _, body := range []string{`"n/a"`, `{"data": "soon"}`, `not json at all`} {
		sample := fetchStaked(t, body)
		if sample != nil {
			t.Fatalf("非数字负载 %q 应返回 nil 而非报错", body)
		}
	}
}
