/*

Swap route encoding. A route is the byte string

    token (20) | fee (3) | token (20) | fee (3) | ... | token (20)

with fee tiers big-endian, so a route of n hops is 23*n+20 bytes long.

*/

package swap

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kfund-labs/uniliq/internal/types"
)

var ErrMalformedRoute = errors.New("route encoding is malformed")

const (
	addressSize = common.AddressLength
	feeSize     = 3
	hopSize     = addressSize + feeSize
	minPathSize = hopSize + addressSize
)

// Hop is one pool traversal of a route.
type Hop struct {
	TokenIn  common.Address
	TokenOut common.Address
	Fee      types.FeeTier
}

// EncodePath packs tokens and fee tiers into route bytes. It needs one more
// token than fee tiers and at least one fee tier.
func EncodePath(tokens []common.Address, fees []types.FeeTier) ([]byte, error) {
	if len(fees) == 0 || len(tokens) != len(fees)+1 {
		return nil, fmt.Errorf("%w: %d tokens for %d fee tiers", ErrMalformedRoute, len(tokens), len(fees))
	}
	path := make([]byte, 0, len(fees)*hopSize+addressSize)
	for i, fee := range fees {
		if fee > types.MaxFeeTier {
			return nil, fmt.Errorf("%w: fee tier %d exceeds 24 bits", ErrMalformedRoute, fee)
		}
		path = append(path, tokens[i].Bytes()...)
		path = append(path, byte(fee>>16), byte(fee>>8), byte(fee))
	}
	path = append(path, tokens[len(tokens)-1].Bytes()...)
	return path, nil
}

// DecodePath unpacks route bytes into hops. The total length must be
// 23*n+20 for n >= 1.
func DecodePath(path []byte) ([]Hop, error) {
	if len(path) < minPathSize || (len(path)-addressSize)%hopSize != 0 {
		return nil, fmt.Errorf("%w: length %d", ErrMalformedRoute, len(path))
	}
	hopCount := (len(path) - addressSize) / hopSize
	hops := make([]Hop, 0, hopCount)
	for i := 0; i < hopCount; i++ {
		base := i * hopSize
		tokenIn := common.BytesToAddress(path[base : base+addressSize])
		fee := types.FeeTier(path[base+addressSize])<<16 |
			types.FeeTier(path[base+addressSize+1])<<8 |
			types.FeeTier(path[base+addressSize+2])
		tokenOut := common.BytesToAddress(path[base+hopSize : base+hopSize+addressSize])
		hops = append(hops, Hop{TokenIn: tokenIn, TokenOut: tokenOut, Fee: fee})
	}
	return hops, nil
}

// PathEndpoints returns the first and last token of route bytes.
func PathEndpoints(path []byte) (common.Address, common.Address, error) {
	hops, err := DecodePath(path)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return hops[0].TokenIn, hops[len(hops)-1].TokenOut, nil
}
