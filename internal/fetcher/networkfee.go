package fetcher

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"ssv-dashboard-api/internal/feescale"
	"ssv-dashboard-api/internal/store"
)

const (
	networkFeeABIJSON = `[{"inputs":[],"name":"getNetworkFee","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`

	networkFeeWithBlockABIJSON = `[{"inputs":[],"name":"getNetworkFee","outputs":[{"internalType":"uint256","name":"fee","type":"uint256"},{"internalType":"uint256","name":"blockNumber","type":"uint256"}],"stateMutability":"view","type":"function"}]`
)

var (
	networkFeeABI          abi.ABI
	networkFeeWithBlockABI abi.ABI
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(networkFeeABIJSON))
	if err != nil {
		panic("failed to parse network fee ABI: " + err.Error())
	}
	networkFeeABI = parsed

	parsed, err = abi.JSON(strings.NewReader(networkFeeWithBlockABIJSON))
	if err != nil {
		panic("failed to parse two-value network fee ABI: " + err.Error())
	}
	networkFeeWithBlockABI = parsed
}

// NetworkFeeOptions parameterise the on-chain fee reader.
type NetworkFeeOptions struct {
	RPCURL          string
	ContractAddress string
	Timeout         time.Duration
}

// NetworkFee reads the network fee view call via Ethereum RPC and commits
// to one scale interpretation of the returned integer.
type NetworkFee struct {
	opts      NetworkFeeOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewNetworkFee builds a new fee reader.
func NewNetworkFee(opts NetworkFeeOptions, logger zerolog.Logger) *NetworkFee {
	return &NetworkFee{opts: opts, logger: logger.With().Str("component", "networkfee_fetcher").Logger()}
}

// FetchNetworkFee calls getNetworkFee() and decodes the result. A raw value
// matching no scale heuristic still yields a sample (Percent nil) so the
// integer and its annualized estimate stay diagnosable.
func (n *NetworkFee) FetchNetworkFee(ctx context.Context) (*store.NetworkFeeSample, error) {
	if n.opts.RPCURL == "" {
		return nil, Faultf(store.ErrMissingProvider, "ethereum rpc url not configured")
	}
	if n.opts.ContractAddress == "" {
		return nil, Faultf(store.ErrMissingProvider, "network fee contract address not configured")
	}

	timeout := n.opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := n.getClient(ctx)
	if err != nil {
		return nil, Fault(store.ErrFetchFailed, err)
	}

	addr := common.HexToAddress(n.opts.ContractAddress)
	payload, err := networkFeeABI.Pack("getNetworkFee")
	if err != nil {
		return nil, Fault(store.ErrFetchFailed, err)
	}

	ret, err := client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: payload}, nil)
	if err != nil {
		return nil, Fault(store.ErrFetchFailed, err)
	}

	raw, blockNumber, err := decodeFeeReturn(ret)
	if err != nil {
		return nil, Fault(store.ErrDecodeFailed, err)
	}

	sample := buildFeeSample(raw, blockNumber)
	if sample.Percent == nil {
		n.logger.Warn().Str("raw", raw.String()).Msg("network fee matched no scale heuristic")
	} else {
		n.logger.Debug().Str("raw", raw.String()).Str("scale", sample.Scale).
			Str("percent", sample.Percent.String()).Msg("network fee decoded")
	}
	return sample, nil
}

// decodeFeeReturn tries the single-value signature, then the
// (value, blockNumber) signature, then a manual 32-byte word slice.
func decodeFeeReturn(ret []byte) (*big.Int, *uint64, error) {
	if len(ret) == 32 {
		if outs, err := networkFeeABI.Unpack("getNetworkFee", ret); err == nil && len(outs) == 1 {
			if v, ok := outs[0].(*big.Int); ok {
				return v, nil, nil
			}
		}
	}

	if outs, err := networkFeeWithBlockABI.Unpack("getNetworkFee", ret); err == nil && len(outs) == 2 {
		fee, okFee := outs[0].(*big.Int)
		blk, okBlk := outs[1].(*big.Int)
		if okFee && okBlk {
			return fee, asBlockNumber(blk), nil
		}
	}

	if len(ret) >= 32 {
		fee := new(big.Int).SetBytes(ret[:32])
		var blockNumber *uint64
		if len(ret) >= 64 {
			blockNumber = asBlockNumber(new(big.Int).SetBytes(ret[32:64]))
		}
		return fee, blockNumber, nil
	}

	return nil, nil, fmt.Errorf("return data too short: %d bytes", len(ret))
}

func asBlockNumber(v *big.Int) *uint64 {
	if v == nil || v.Sign() <= 0 || !v.IsUint64() {
		return nil
	}
	b := v.Uint64()
	return &b
}

func buildFeeSample(raw *big.Int, blockNumber *uint64) *store.NetworkFeeSample {
	res := feescale.Detect(raw)
	perBlock, perYear := feescale.Annualize(raw)
	return &store.NetworkFeeSample{
		Raw:         res.Raw,
		Scale:       res.Scale,
		Percent:     res.Percent,
		PerBlockSSV: perBlock,
		PerYearSSV:  perYear,
		BlockNumber: blockNumber,
	}
}

func (n *NetworkFee) getClient(ctx context.Context) (*ethclient.Client, error) {
	n.clientMux.Lock()
	defer n.clientMux.Unlock()

	if n.client != nil {
		return n.client, nil
	}

	client, err := ethclient.DialContext(ctx, n.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	n.client = client
	return client, nil
}

var _ NetworkFeeFetcher = (*NetworkFee)(nil)
