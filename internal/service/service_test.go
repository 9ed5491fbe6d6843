package service

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"ssv-dashboard-api/internal/config"
	"ssv-dashboard-api/internal/feescale"
	"ssv-dashboard-api/internal/fetcher"
	"ssv-dashboard-api/internal/store"
)

type stubMarket struct {
	mu      sync.Mutex
	quotes  map[string]store.PriceQuote
	err     error
	entered chan struct{}
	block   chan struct{}
}

func (s *stubMarket) FetchQuotes(context.Context) (map[string]store.PriceQuote, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quotes, s.err
}

func (s *stubMarket) set(quotes map[string]store.PriceQuote, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes, s.err = quotes, err
}

type stubStaking struct {
	sample *store.StakingAprSample
	err    error
}

func (s *stubStaking) FetchStakingApr(context.Context) (*store.StakingAprSample, error) {
	return s.sample, s.err
}

type stubStaked struct {
	sample *store.StakedEthSample
	err    error
}

func (s *stubStaked) FetchStakedEth(context.Context) (*store.StakedEthSample, error) {
	return s.sample, s.err
}

type stubFee struct {
	mu     sync.Mutex
	sample *store.NetworkFeeSample
	err    error
}

func (s *stubFee) FetchNetworkFee(context.Context) (*store.NetworkFeeSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sample, s.err
}

func (s *stubFee) set(sample *store.NetworkFeeSample, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample, s.err = sample, err
}

func testConfig() *config.Config {
	return &config.Config{
		Market: config.MarketConfig{
			BaseURL: "https://pro-api.coinmarketcap.com",
			Symbols: []string{"ETH", "SSV"},
		},
		Staking: config.StakingConfig{
			AprURL:    "https://beacon.example/apr",
			StakedURL: "https://beacon.example/staked",
		},
		Ethereum: config.EthereumConfig{
			NetworkFeeAddress: "0x3815929a69a2739d58eb72e5b3dbbcbe9d06b309",
		},
	}
}

func decodedFee(raw int64) *store.NetworkFeeSample {
	sample := &store.NetworkFeeSample{}
	res := feescale.Detect(big.NewInt(raw))
	sample.Raw = res.Raw
	sample.Scale = res.Scale
	sample.Percent = res.Percent
	sample.PerBlockSSV, sample.PerYearSSV = feescale.Annualize(res.Raw)
	return sample
}

func rawOnlyFee(raw *big.Int) *store.NetworkFeeSample {
	perBlock, perYear := feescale.Annualize(raw)
	return &store.NetworkFeeSample{Raw: raw, PerBlockSSV: perBlock, PerYearSSV: perYear}
}

func quoteAt(symbol string, price int64, ts time.Time) store.PriceQuote {
	return store.PriceQuote{
		Symbol:          symbol,
		PriceUSD:        decimal.NewFromInt(price),
		SourceTimestamp: ts,
	}
}

func newService(t *testing.T, market fetcher.QuoteFetcher, staking fetcher.StakingAprFetcher, staked fetcher.StakedEthFetcher, fee fetcher.NetworkFeeFetcher) (*Service, *store.History, *store.Cache) {
	t.Helper()
	history := store.NewHistory()
	cache := store.NewCache()
	svc := New(testConfig(), market, staking, staked, fee, nil, history, cache, nil, zerolog.Nop())
	return svc, history, cache
}

func TestRunCycleDropsWhenPreviousStillRunning(t *testing.T) {
	market := &stubMarket{
		entered: make(chan struct{}),
		block:   make(chan struct{}),
	}
	svc, _, _ := newService(t, market,
		&stubStaking{err: fetcher.Faultf(store.ErrFetchFailed, "down")},
		&stubStaked{err: fetcher.Faultf(store.ErrFetchFailed, "down")},
		&stubFee{err: fetcher.Faultf(store.ErrFetchFailed, "down")},
	)

	firedAt := time.Now().UTC()
	firstDone := make(chan bool, 1)
	go func() {
		firstDone <- svc.RunCycle(context.Background(), firedAt)
	}()

	// Once the fan-out reached the market stub the first cycle holds the lock.
	<-market.entered

	if svc.RunCycle(context.Background(), firedAt.Add(time.Second)) {
		t.Fatal("上一周期未结束时新 tick 应被丢弃")
	}

	close(market.block)
	if !<-firstDone {
		t.Fatal("首个周期应正常完成")
	}
}

func TestRunCycleAllFailedLeavesSnapshotNotReady(t *testing.T) {
	svc, _, cache := newService(t,
		&stubMarket{err: fetcher.Faultf(store.ErrFetchFailed, "api down")},
		&stubStaking{err: fetcher.Faultf(store.ErrFetchFailed, "api down")},
		&stubStaked{err: fetcher.Faultf(store.ErrFetchFailed, "api down")},
		&stubFee{err: fetcher.Faultf(store.ErrFetchFailed, "rpc down")},
	)

	svc.RunCycle(context.Background(), time.Now().UTC())

	snap := cache.Get()
	if snap.Ready() {
		t.Fatal("全部失败时 lastUpdated 不应被设置")
	}
	if len(snap.Errors) == 0 {
		t.Fatal("失败周期应发布错误详情")
	}
	for _, slot := range []string{store.SlotPrices, store.SlotStakingApr, store.SlotStakedEth, store.SlotNetworkFee} {
		if snap.Errors[slot].Code != store.ErrFetchFailed {
			t.Fatalf("slot %s 期望 FETCH_FAILED, 实际 %#v", slot, snap.Errors[slot])
		}
	}
}

func TestRunCyclePartialMergeKeepsIndependentSlots(t *testing.T) {
	firedAt := time.Now().UTC()
	apr := decimal.RequireFromString("0.04")
	svc, _, cache := newService(t,
		&stubMarket{err: fetcher.Faultf(store.ErrMissingCredential, "market api key not configured")},
		&stubStaking{sample: &store.StakingAprSample{Value: apr, SourceField: "apr31d"}},
		&stubStaked{sample: &store.StakedEthSample{ValueEth: decimal.NewFromInt(34_000_000)}},
		&stubFee{sample: decodedFee(1)},
	)

	svc.RunCycle(context.Background(), firedAt)

	snap := cache.Get()
	if !snap.Ready() {
		t.Fatal("部分成功的周期应设置 lastUpdated")
	}
	if snap.Prices != nil {
		t.Fatalf("prices 从未成功时应为 nil, 实际 %#v", snap.Prices)
	}
	if got := snap.Errors[store.SlotPrices].Code; got != store.ErrMissingCredential {
		t.Fatalf("prices 槽位应标记 MISSING_CREDENTIAL, 实际 %q", got)
	}
	if snap.StakingApr == nil || !snap.StakingApr.Value.Equal(apr) {
		t.Fatalf("staking apr 应照常发布, 实际 %#v", snap.StakingApr)
	}
	if snap.NetworkFee == nil || snap.NetworkFee.Percent == nil {
		t.Fatal("network fee 应照常发布")
	}
	if snap.Sources[store.SlotStakingApr] == "" {
		t.Fatal("成功槽位应带 source 描述")
	}
	if snap.Sources[store.SlotPrices] != "" {
		t.Fatal("失败槽位不应出现在 sources 中")
	}
}

func TestRunCycleRetainsValuesAcrossTransientFailure(t *testing.T) {
	firedAt := time.Now().UTC()
	market := &stubMarket{quotes: map[string]store.PriceQuote{
		"ETH": quoteAt("ETH", 3000, firedAt),
	}}
	svc, _, cache := newService(t, market,
		&stubStaking{sample: &store.StakingAprSample{Value: decimal.RequireFromString("0.04"), SourceField: "apr31d"}},
		&stubStaked{sample: &store.StakedEthSample{ValueEth: decimal.NewFromInt(34_000_000)}},
		&stubFee{sample: decodedFee(1)},
	)

	svc.RunCycle(context.Background(), firedAt)
	first := cache.Get()
	if first.Prices["ETH"].PriceUSD.IsZero() {
		t.Fatal("首个周期应发布 ETH 报价")
	}

	market.set(nil, fetcher.Faultf(store.ErrFetchFailed, "429 too many requests"))
	second := firedAt.Add(5 * time.Minute)
	svc.RunCycle(context.Background(), second)

	snap := cache.Get()
	if snap.Prices == nil || !snap.Prices["ETH"].PriceUSD.Equal(decimal.NewFromInt(3000)) {
		t.Fatal("瞬时失败应保留上一周期的报价")
	}
	if snap.Errors[store.SlotPrices].Code != store.ErrFetchFailed {
		t.Fatal("瞬时失败应记录 FETCH_FAILED")
	}
	if !snap.LastUpdated.Equal(second) {
		t.Fatalf("其余槽位成功, lastUpdated 应前进到 %v, 实际 %v", second, snap.LastUpdated)
	}

	// Recovery clears the error slot.
	market.set(map[string]store.PriceQuote{"ETH": quoteAt("ETH", 3100, second)}, nil)
	svc.RunCycle(context.Background(), firedAt.Add(10*time.Minute))
	if _, stale := cache.Get().Errors[store.SlotPrices]; stale {
		t.Fatal("恢复后错误槽位应被清除")
	}
}

func TestRunCycleFeeDecodeMissKeepsPreviousDecodedSample(t *testing.T) {
	firedAt := time.Now().UTC()
	fee := &stubFee{sample: decodedFee(1)}
	svc, _, cache := newService(t,
		&stubMarket{quotes: map[string]store.PriceQuote{"ETH": quoteAt("ETH", 3000, firedAt)}},
		&stubStaking{sample: &store.StakingAprSample{Value: decimal.RequireFromString("0.04"), SourceField: "apr31d"}},
		&stubStaked{sample: &store.StakedEthSample{ValueEth: decimal.NewFromInt(34_000_000)}},
		fee,
	)

	svc.RunCycle(context.Background(), firedAt)
	if cache.Get().NetworkFee.Percent == nil {
		t.Fatal("首个周期应发布已解码的 fee")
	}

	huge, _ := new(big.Int).SetString("1000000000000000000000", 10)
	fee.set(rawOnlyFee(huge), nil)
	svc.RunCycle(context.Background(), firedAt.Add(5*time.Minute))

	snap := cache.Get()
	if snap.NetworkFee.Percent == nil || !snap.NetworkFee.Percent.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("解码失败应保留上一个可解码样本, 实际 %#v", snap.NetworkFee)
	}
	if snap.Errors[store.SlotNetworkFee].Code != store.ErrDecodeFailed {
		t.Fatal("解码失败应记录 DECODE_FAILED")
	}
}

func TestRunCycleFeeDecodeMissWithoutPriorPublishesRaw(t *testing.T) {
	firedAt := time.Now().UTC()
	huge, _ := new(big.Int).SetString("1000000000000000000000", 10)
	svc, _, cache := newService(t,
		&stubMarket{quotes: map[string]store.PriceQuote{"ETH": quoteAt("ETH", 3000, firedAt)}},
		&stubStaking{sample: &store.StakingAprSample{Value: decimal.RequireFromString("0.04"), SourceField: "apr31d"}},
		&stubStaked{sample: &store.StakedEthSample{ValueEth: decimal.NewFromInt(34_000_000)}},
		&stubFee{sample: rawOnlyFee(huge)},
	)

	svc.RunCycle(context.Background(), firedAt)

	snap := cache.Get()
	if snap.NetworkFee == nil || snap.NetworkFee.Raw.Cmp(huge) != 0 {
		t.Fatal("没有历史样本时应发布 raw-only 样本")
	}
	if snap.NetworkFee.Percent != nil {
		t.Fatal("raw-only 样本不应携带 percent")
	}
	if snap.Errors[store.SlotNetworkFee].Code != store.ErrDecodeFailed {
		t.Fatal("解码失败应记录 DECODE_FAILED")
	}
}

func TestRunCycleStakedEmptyPayloadKeepsPrevious(t *testing.T) {
	firedAt := time.Now().UTC()
	staked := &stubStaked{sample: &store.StakedEthSample{ValueEth: decimal.NewFromInt(34_000_000)}}
	svc, _, cache := newService(t,
		&stubMarket{quotes: map[string]store.PriceQuote{"ETH": quoteAt("ETH", 3000, firedAt)}},
		&stubStaking{sample: &store.StakingAprSample{Value: decimal.RequireFromString("0.04"), SourceField: "apr31d"}},
		staked,
		&stubFee{sample: decodedFee(1)},
	)

	svc.RunCycle(context.Background(), firedAt)

	staked.sample = nil
	svc.RunCycle(context.Background(), firedAt.Add(5*time.Minute))

	snap := cache.Get()
	if snap.StakedEth == nil || !snap.StakedEth.ValueEth.Equal(decimal.NewFromInt(34_000_000)) {
		t.Fatal("空载荷应保留上一周期的 staked 总量")
	}
	if _, bad := snap.Errors[store.SlotStakedEth]; bad {
		t.Fatal("空载荷不是错误, 不应占用错误槽位")
	}
}

func TestRunCycleProjectionGoldenPath(t *testing.T) {
	// Reference time sits at the start of a month so the previous calendar
	// month is fully inside the retention horizon.
	firedAt := time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)

	svc, history, cache := newService(t,
		&stubMarket{quotes: map[string]store.PriceQuote{
			"ETH": quoteAt("ETH", 3000, firedAt),
			"SSV": quoteAt("SSV", 40, firedAt),
		}},
		&stubStaking{sample: &store.StakingAprSample{Value: decimal.RequireFromString("0.04"), SourceField: "apr31d"}},
		&stubStaked{sample: &store.StakedEthSample{ValueEth: decimal.NewFromInt(34_000_000)}},
		&stubFee{sample: decodedFee(1)},
	)

	for day := 1; day <= 30; day++ {
		ts := time.Date(2025, time.June, day, 12, 0, 0, 0, time.UTC).UnixMilli()
		history.Append("ETH", store.HistoryPoint{TimestampMs: ts, PriceUSD: decimal.NewFromInt(3000)}, firedAt)
		history.Append("SSV", store.HistoryPoint{TimestampMs: ts, PriceUSD: decimal.NewFromInt(40)}, firedAt)
	}

	svc.RunCycle(context.Background(), firedAt)

	snap := cache.Get()
	if snap.Projection == nil {
		t.Fatalf("完整输入应产出 projection, 错误: %#v", snap.Errors[store.SlotProjection])
	}
	want := decimal.RequireFromString("0.96")
	if !snap.Projection.PerYearSSV.Equal(want) {
		t.Fatalf("期望年化费用 %s, 实际 %s", want, snap.Projection.PerYearSSV)
	}
	if snap.Projection.Basis != store.BasisObserved {
		t.Fatalf("全部真实点时 basis 应为 observed, 实际 %q", snap.Projection.Basis)
	}
	if _, gated := snap.Errors[store.SlotProjection]; gated {
		t.Fatal("projection 可用时不应残留 WINDOW_INCOMPLETE")
	}
}

func TestRunCycleProjectionGatedWithThinHistory(t *testing.T) {
	firedAt := time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)
	svc, _, cache := newService(t,
		&stubMarket{quotes: map[string]store.PriceQuote{
			"ETH": quoteAt("ETH", 3000, firedAt),
			"SSV": quoteAt("SSV", 40, firedAt),
		}},
		&stubStaking{sample: &store.StakingAprSample{Value: decimal.RequireFromString("0.04"), SourceField: "apr31d"}},
		&stubStaked{sample: &store.StakedEthSample{ValueEth: decimal.NewFromInt(34_000_000)}},
		&stubFee{sample: decodedFee(1)},
	)

	svc.RunCycle(context.Background(), firedAt)

	snap := cache.Get()
	if snap.Projection != nil {
		t.Fatal("窗口数据不足时 projection 必须缺席")
	}
	gate, ok := snap.Errors[store.SlotProjection]
	if !ok || gate.Code != store.ErrWindowIncomplete {
		t.Fatalf("期望 WINDOW_INCOMPLETE, 实际 %#v", gate)
	}
	if gate.Message == "" {
		t.Fatal("gating 原因不应为空")
	}
}

func TestRunCycleFeeOverrideBeatsDecodedPercent(t *testing.T) {
	firedAt := time.Date(2025, time.July, 1, 9, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.Projection.FeePercentOverride = 0.02

	history := store.NewHistory()
	cache := store.NewCache()
	svc := New(cfg,
		&stubMarket{quotes: map[string]store.PriceQuote{
			"ETH": quoteAt("ETH", 3000, firedAt),
			"SSV": quoteAt("SSV", 40, firedAt),
		}},
		&stubStaking{sample: &store.StakingAprSample{Value: decimal.RequireFromString("0.04"), SourceField: "apr31d"}},
		&stubStaked{sample: &store.StakedEthSample{ValueEth: decimal.NewFromInt(34_000_000)}},
		&stubFee{sample: decodedFee(1)},
		nil, history, cache, nil, zerolog.Nop())

	for day := 1; day <= 30; day++ {
		ts := time.Date(2025, time.June, day, 12, 0, 0, 0, time.UTC).UnixMilli()
		history.Append("ETH", store.HistoryPoint{TimestampMs: ts, PriceUSD: decimal.NewFromInt(3000)}, firedAt)
		history.Append("SSV", store.HistoryPoint{TimestampMs: ts, PriceUSD: decimal.NewFromInt(40)}, firedAt)
	}

	svc.RunCycle(context.Background(), firedAt)

	snap := cache.Get()
	if snap.Projection == nil {
		t.Fatal("override 生效时 projection 应可用")
	}
	want := decimal.RequireFromString("1.92")
	if !snap.Projection.PerYearSSV.Equal(want) {
		t.Fatalf("override 0.02 期望 %s, 实际 %s", want, snap.Projection.PerYearSSV)
	}
	if !snap.Projection.Inputs.FeePercent.Equal(decimal.RequireFromString("0.02")) {
		t.Fatal("projection inputs 应记录 override 后的费率")
	}
}

func TestRunCyclePermanentErrorLoggedOnce(t *testing.T) {
	svc, _, _ := newService(t,
		&stubMarket{err: fetcher.Faultf(store.ErrMissingCredential, "market api key not configured")},
		&stubStaking{sample: &store.StakingAprSample{Value: decimal.RequireFromString("0.04"), SourceField: "apr31d"}},
		&stubStaked{sample: &store.StakedEthSample{ValueEth: decimal.NewFromInt(34_000_000)}},
		&stubFee{sample: decodedFee(1)},
	)

	firedAt := time.Now().UTC()
	svc.RunCycle(context.Background(), firedAt)
	svc.RunCycle(context.Background(), firedAt.Add(5*time.Minute))

	if svc.permanentLogged[store.SlotPrices] != store.ErrMissingCredential {
		t.Fatal("永久性错误应被去重记录")
	}
}
