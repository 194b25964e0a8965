// Package chainconn defines the leaf collaborator that enumerates
// venues, quotes prices, estimates gas, and executes swaps for one
// chain (spec §2: "Chain Connector (one per chain)").
package chainconn

import (
	"context"

	"github.com/holiman/uint256"
)

// Venue describes one on-chain DEX/venue the connector can quote against.
type Venue struct {
	Name            string
	GasOverhead     uint64
	TWAPStability   float64
	SupportsFlashSwap bool
	Active          bool
}

// Quote is the best price the connector found for a token pair at a venue.
type Quote struct {
	Venue          string
	OutputAmount   *uint256.Int
	PriceImpactBps uint64
}

// Connector is implemented once per chain. It is the only component
// that talks to chain-specific RPC shapes; the engine and strategies
// depend only on this interface.
type Connector interface {
	ChainID() string
	Venues(ctx context.Context) ([]Venue, error)
	Quote(ctx context.Context, venue, tokenIn, tokenOut string, amountIn *uint256.Int) (Quote, error)
	EstimateGas(ctx context.Context, venue string) (uint64, error)
	ExecuteSwap(ctx context.Context, venue, tokenIn, tokenOut string, amountIn *uint256.Int, simID string) (*uint256.Int, error)
}
