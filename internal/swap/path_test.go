package swap

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/kfund-labs/uniliq/internal/types"
)

func addr(b byte) common.Address {
	var a common.Address
	a[19] = b
	return a
}

func TestEncodePathSingleHop(t *testing.T) {
	path, err := EncodePath(
		[]common.Address{addr(1), addr(2)},
		[]types.FeeTier{types.FeeTierMedium},
	)
	require.NoError(t, err)
	require.Len(t, path, 43)

	hops, err := DecodePath(path)
	require.NoError(t, err)
	require.Len(t, hops, 1)
	require.Equal(t, addr(1), hops[0].TokenIn)
	require.Equal(t, addr(2), hops[0].TokenOut)
	require.Equal(t, types.FeeTierMedium, hops[0].Fee)
}

func TestEncodePathMultiHop(t *testing.T) {
	tokens := []common.Address{addr(1), addr(2), addr(3), addr(4), addr(5)}
	fee := []types.FeeTier{types.FeeTierLow, types.FeeTierMedium, types.FeeTierHigh, types.FeeTierLow}

	path, err := EncodePath(tokens, fee)
	require.NoError(t, err)
	require.Len(t, path, 23*4+20)

	hops, err := DecodePath(path)
	require.NoError(t, err)
	require.Len(t, hops, 4)
	for i, hop := range hops {
		require.Equal(t, tokens[i], hop.TokenIn)
		require.Equal(t, tokens[i+1], hop.TokenOut)
		require.Equal(t, fee[i], hop.Fee)
	}

	// Adjacent hops share their junction token.
	for i := 1; i < len(hops); i++ {
		require.Equal(t, hops[i-1].TokenOut, hops[i].TokenIn)
	}
}

func TestEncodePathRejectsShapeMismatch(t *testing.T) {
	_, err := EncodePath([]common.Address{addr(1), addr(2)}, nil)
	require.ErrorIs(t, err, ErrMalformedRoute)

	_, err = EncodePath([]common.Address{addr(1)}, []types.FeeTier{types.FeeTierLow})
	require.ErrorIs(t, err, ErrMalformedRoute)

	_, err = EncodePath(
		[]common.Address{addr(1), addr(2), addr(3)},
		[]types.FeeTier{types.FeeTierLow},
	)
	require.ErrorIs(t, err, ErrMalformedRoute)
}

func TestEncodePathRejectsOversizedFeeTier(t *testing.T) {
	_, err := EncodePath(
		[]common.Address{addr(1), addr(2)},
		[]types.FeeTier{types.MaxFeeTier + 1},
	)
	require.ErrorIs(t, err, ErrMalformedRoute)
}

func TestDecodePathRejectsBadLengths(t *testing.T) {
	for _, n := range []int{0, 1, 20, 42, 44, 65} {
		_, err := DecodePath(make([]byte, n))
		require.ErrorIs(t, err, ErrMalformedRoute, "length %d", n)
	}
}

func TestDecodePathFeeTierBigEndian(t *testing.T) {
	path, err := EncodePath(
		[]common.Address{addr(1), addr(2)},
		[]types.FeeTier{0x010203},
	)
	require.NoError(t, err)
	require.Equal(t, byte(0x01), path[20])
	require.Equal(t, byte(0x02), path[21])
	require.Equal(t, byte(0x03), path[22])

	hops, err := DecodePath(path)
	require.NoError(t, err)
	require.Equal(t, types.FeeTier(0x010203), hops[0].Fee)
}

func TestPathEndpoints(t *testing.T) {
	path, err := EncodePath(
		[]common.Address{addr(7), addr(8), addr(9)},
		[]types.FeeTier{types.FeeTierLow, types.FeeTierHigh},
	)
	require.NoError(t, err)

	first, last, err := PathEndpoints(path)
	require.NoError(t, err)
	require.Equal(t, addr(7), first)
	require.Equal(t, addr(9), last)
}
