/*

Multi-hop swap routing over stored per-pair routes. One route is configured
per ordered (tokenIn, tokenOut) pair; swaps quote the whole route first and
abort on the slippage bound before any balance moves.

*/

package swap

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/kfund-labs/uniliq/internal/amm"
	"github.com/kfund-labs/uniliq/internal/audit"
	"github.com/kfund-labs/uniliq/internal/gov"
	"github.com/kfund-labs/uniliq/internal/logger"
	"github.com/kfund-labs/uniliq/internal/types"
)

var (
	ErrRouteNotFound      = errors.New("no route for token pair")
	ErrRouteMismatch      = errors.New("route endpoints do not match token pair")
	ErrInsufficientOutput = errors.New("route output below minimum")
	ErrExcessiveInput     = errors.New("route input above maximum")
	ErrInvalidSwapAmount  = errors.New("swap amount is invalid")
)

var routerLogger = logger.GetForComponent("swap_router")

type routeKey struct {
	tokenIn  common.Address
	tokenOut common.Address
}

// Router executes route-table swaps against the AMM on behalf of a single
// treasury identity.
type Router struct {
	mu       sync.Mutex
	dex      amm.Service
	identity *gov.Identity
	treasury common.Address
	recorder audit.Recorder
	routes   map[routeKey][]byte
}

func NewRouter(dex amm.Service, identity *gov.Identity, treasury common.Address, recorder audit.Recorder) *Router {
	if recorder == nil {
		recorder = audit.Nop{}
	}
	return &Router{
		dex:      dex,
		identity: identity,
		treasury: treasury,
		recorder: recorder,
		routes:   make(map[routeKey][]byte),
	}
}

// SetRoute stores the route for an ordered pair after checking that the
// encoding is well formed, its endpoints match the pair, and every hop's
// pool exists. An empty path clears the route.
func (r *Router) SetRoute(caller common.Address, tokenIn, tokenOut common.Address, path []byte) error {
	if err := r.identity.RequireGovernanceOrStrategist(caller); err != nil {
		return err
	}
	key := routeKey{tokenIn: tokenIn, tokenOut: tokenOut}
	if len(path) == 0 {
		r.mu.Lock()
		delete(r.routes, key)
		r.mu.Unlock()
		routerLogger.Info().Str("token_in", tokenIn.Hex()).Str("token_out", tokenOut.Hex()).Msg("Route cleared")
		return nil
	}
	hops, err := DecodePath(path)
	if err != nil {
		return err
	}
	if hops[0].TokenIn != tokenIn || hops[len(hops)-1].TokenOut != tokenOut {
		return fmt.Errorf("%w: path runs %s -> %s", ErrRouteMismatch,
			hops[0].TokenIn.Hex(), hops[len(hops)-1].TokenOut.Hex())
	}
	for _, hop := range hops {
		if _, err := r.dex.Pool(hop.TokenIn, hop.TokenOut, hop.Fee); err != nil {
			return fmt.Errorf("route hop %s -> %s: %w", hop.TokenIn.Hex(), hop.TokenOut.Hex(), err)
		}
	}
	stored := make([]byte, len(path))
	copy(stored, path)
	r.mu.Lock()
	r.routes[key] = stored
	r.mu.Unlock()
	routerLogger.Info().
		Str("token_in", tokenIn.Hex()).
		Str("token_out", tokenOut.Hex()).
		Int("hops", len(hops)).
		Msg("Route stored")
	return nil
}

// Route returns the stored route bytes for an ordered pair.
func (r *Router) Route(tokenIn, tokenOut common.Address) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	path, ok := r.routes[routeKey{tokenIn: tokenIn, tokenOut: tokenOut}]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrRouteNotFound, tokenIn.Hex(), tokenOut.Hex())
	}
	out := make([]byte, len(path))
	copy(out, path)
	return out, nil
}

// HasRoute reports whether a route is configured for the ordered pair.
func (r *Router) HasRoute(tokenIn, tokenOut common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.routes[routeKey{tokenIn: tokenIn, tokenOut: tokenOut}]
	return ok
}

func (r *Router) hopsFor(tokenIn, tokenOut common.Address) ([]Hop, error) {
	path, err := r.Route(tokenIn, tokenOut)
	if err != nil {
		return nil, err
	}
	return DecodePath(path)
}

// quoteForward chains exact-input quotes across the route's hops.
func (r *Router) quoteForward(hops []Hop, amountIn sdkmath.Int) (sdkmath.Int, error) {
	amount := amountIn
	for _, hop := range hops {
		out, err := r.dex.QuoteExactInput(hop.TokenIn, hop.TokenOut, hop.Fee, amount)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		amount = out
	}
	return amount, nil
}

// quoteBackward chains exact-output quotes from the final hop back to the
// first, returning the per-hop target outputs alongside the required input.
func (r *Router) quoteBackward(hops []Hop, amountOut sdkmath.Int) (sdkmath.Int, []sdkmath.Int, error) {
	targets := make([]sdkmath.Int, len(hops))
	amount := amountOut
	for i := len(hops) - 1; i >= 0; i-- {
		targets[i] = amount
		in, err := r.dex.QuoteExactOutput(hops[i].TokenIn, hops[i].TokenOut, hops[i].Fee, amount)
		if err != nil {
			return sdkmath.ZeroInt(), nil, err
		}
		amount = in
	}
	return amount, targets, nil
}

// ExactInput swaps amountIn of the treasury's tokenIn along the stored
// route, crediting the final output to recipient. The whole route is quoted
// first; output below amountOutMin aborts before anything moves.
func (r *Router) ExactInput(tokenIn, tokenOut common.Address, amountIn, amountOutMin sdkmath.Int, recipient common.Address) (sdkmath.Int, error) {
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidSwapAmount
	}
	hops, err := r.hopsFor(tokenIn, tokenOut)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	quoted, err := r.quoteForward(hops, amountIn)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if quoted.LT(amountOutMin) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: quoted %s, minimum %s", ErrInsufficientOutput, quoted, amountOutMin)
	}

	amount := amountIn
	for i, hop := range hops {
		to := r.treasury
		if i == len(hops)-1 {
			to = recipient
		}
		out, err := r.dex.SwapExactInput(r.treasury, to, hop.TokenIn, hop.TokenOut, hop.Fee, amount)
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		amount = out
	}
	r.recorder.Record(types.Swap{TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: amountIn, AmountOut: amount})
	routerLogger.Debug().
		Str("token_in", tokenIn.Hex()).
		Str("token_out", tokenOut.Hex()).
		Str("amount_in", amountIn.String()).
		Str("amount_out", amount.String()).
		Msg("Exact input swap executed")
	return amount, nil
}

// ExactOutput swaps just enough of the treasury's tokenIn along the stored
// route to credit exactly amountOut to recipient. The required input is
// quoted first; input above amountInMax aborts before anything moves.
func (r *Router) ExactOutput(tokenIn, tokenOut common.Address, amountOut, amountInMax sdkmath.Int, recipient common.Address) (sdkmath.Int, error) {
	if amountOut.IsNil() || !amountOut.IsPositive() {
		return sdkmath.ZeroInt(), ErrInvalidSwapAmount
	}
	hops, err := r.hopsFor(tokenIn, tokenOut)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	required, targets, err := r.quoteBackward(hops, amountOut)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if required.GT(amountInMax) {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: quoted %s, maximum %s", ErrExcessiveInput, required, amountInMax)
	}

	spent := sdkmath.ZeroInt()
	for i, hop := range hops {
		to := r.treasury
		if i == len(hops)-1 {
			to = recipient
		}
		in, err := r.dex.SwapExactOutput(r.treasury, to, hop.TokenIn, hop.TokenOut, hop.Fee, targets[i])
		if err != nil {
			return sdkmath.ZeroInt(), err
		}
		if i == 0 {
			spent = in
		}
	}
	r.recorder.Record(types.Swap{TokenIn: tokenIn, TokenOut: tokenOut, AmountIn: spent, AmountOut: amountOut})
	routerLogger.Debug().
		Str("token_in", tokenIn.Hex()).
		Str("token_out", tokenOut.Hex()).
		Str("amount_in", spent.String()).
		Str("amount_out", amountOut.String()).
		Msg("Exact output swap executed")
	return spent, nil
}

// EstimateAmountOut quotes the route without swapping. Missing routes and
// zero inputs estimate zero so valuation can price unrouted tokens at nil.
func (r *Router) EstimateAmountOut(tokenIn, tokenOut common.Address, amountIn sdkmath.Int) sdkmath.Int {
	if tokenIn == tokenOut {
		return amountIn
	}
	if amountIn.IsNil() || !amountIn.IsPositive() {
		return sdkmath.ZeroInt()
	}
	hops, err := r.hopsFor(tokenIn, tokenOut)
	if err != nil {
		return sdkmath.ZeroInt()
	}
	out, err := r.quoteForward(hops, amountIn)
	if err != nil {
		return sdkmath.ZeroInt()
	}
	return out
}

// EstimateAmountIn quotes the input a route needs for amountOut, zero when
// no route is configured.
func (r *Router) EstimateAmountIn(tokenIn, tokenOut common.Address, amountOut sdkmath.Int) sdkmath.Int {
	if tokenIn == tokenOut {
		return amountOut
	}
	if amountOut.IsNil() || !amountOut.IsPositive() {
		return sdkmath.ZeroInt()
	}
	hops, err := r.hopsFor(tokenIn, tokenOut)
	if err != nil {
		return sdkmath.ZeroInt()
	}
	in, _, err := r.quoteBackward(hops, amountOut)
	if err != nil {
		return sdkmath.ZeroInt()
	}
	return in
}
