package chainconn

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/r3e-network/mev-searcher/internal/rpcpool"
)

// toHex renders a uint256 amount as a "0x"-prefixed hex string without
// relying on a specific uint256.Int formatting method's prefix convention.
func toHex(v *uint256.Int) string {
	return fmt.Sprintf("0x%x", v.ToBig())
}

// JSONRPCConnector is a reference Connector that drives an rpcpool.Pool
// over JSON-RPC eth_call-shaped requests, consistent with the pool's
// own health-check request construction. Venue metadata is supplied
// statically at construction time (spec.md leaves venue discovery as a
// chain-specific concern outside this specification's scope).
type JSONRPCConnector struct {
	chainID string
	pool    *rpcpool.Pool
	venues  []Venue
}

// NewJSONRPCConnector builds a connector for chainID backed by pool,
// with the given static venue list.
func NewJSONRPCConnector(chainID string, pool *rpcpool.Pool, venues []Venue) *JSONRPCConnector {
	return &JSONRPCConnector{chainID: chainID, pool: pool, venues: venues}
}

func (c *JSONRPCConnector) ChainID() string { return c.chainID }

func (c *JSONRPCConnector) Venues(ctx context.Context) ([]Venue, error) {
	return c.venues, nil
}

type quoteResult struct {
	OutputAmount   string `json:"output_amount"`
	PriceImpactBps uint64 `json:"price_impact_bps"`
}

// Quote calls eth_call against the pool's current primary client with a
// params payload describing the swap; the venue contract is expected to
// return a hex-encoded output amount and a price-impact figure.
func (c *JSONRPCConnector) Quote(ctx context.Context, venue, tokenIn, tokenOut string, amountIn *uint256.Int) (Quote, error) {
	client, err := c.pool.GetClient()
	if err != nil {
		return Quote{}, err
	}

	params := []any{map[string]any{
		"venue":     venue,
		"tokenIn":   tokenIn,
		"tokenOut":  tokenOut,
		"amountIn":  toHex(amountIn),
	}}

	raw, err := client.Call(ctx, "eth_call", params)
	if err != nil {
		return Quote{}, fmt.Errorf("quote %s/%s at %s: %w", tokenIn, tokenOut, venue, err)
	}

	var qr quoteResult
	if err := json.Unmarshal(raw, &qr); err != nil {
		return Quote{}, fmt.Errorf("decode quote response: %w", err)
	}

	out, err := parseUint256Hex(qr.OutputAmount)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Venue: venue, OutputAmount: out, PriceImpactBps: qr.PriceImpactBps}, nil
}

// EstimateGas calls eth_estimateGas for a representative swap at venue.
func (c *JSONRPCConnector) EstimateGas(ctx context.Context, venue string) (uint64, error) {
	client, err := c.pool.GetClient()
	if err != nil {
		return 0, err
	}
	raw, err := client.Call(ctx, "eth_estimateGas", []any{map[string]any{"venue": venue}})
	if err != nil {
		return 0, err
	}
	var hexGas string
	if err := json.Unmarshal(raw, &hexGas); err != nil {
		return 0, fmt.Errorf("decode gas estimate: %w", err)
	}
	gas, err := parseUint64Hex(hexGas)
	if err != nil {
		return 0, err
	}
	return gas, nil
}

// ExecuteSwap issues eth_sendTransaction on the sticky endpoint bound to
// simID and releases the binding once the swap completes. The binding
// lasts for this one call only: a later ExecuteSwap with the same simID
// binds afresh to whichever endpoint is then preferred.
func (c *JSONRPCConnector) ExecuteSwap(ctx context.Context, venue, tokenIn, tokenOut string, amountIn *uint256.Int, simID string) (*uint256.Int, error) {
	client, err := c.pool.GetStickyClient(simID)
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(simID)

	params := []any{map[string]any{
		"venue":    venue,
		"tokenIn":  tokenIn,
		"tokenOut": tokenOut,
		"amountIn": toHex(amountIn),
	}}

	raw, err := client.Call(ctx, "eth_sendTransaction", params)
	if err != nil {
		return nil, fmt.Errorf("execute swap at %s: %w", venue, err)
	}

	var out string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode swap output: %w", err)
	}
	return parseUint256Hex(out)
}

func parseUint256Hex(hex string) (*uint256.Int, error) {
	trimmed := strings.TrimPrefix(hex, "0x")
	if trimmed == "" {
		trimmed = "0"
	}
	v, err := uint256.FromHex("0x" + trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse uint256 %q: %w", hex, err)
	}
	return v, nil
}

func parseUint64Hex(hex string) (uint64, error) {
	v, err := parseUint256Hex(hex)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}
