package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "remitgate/pkg/domain-errors"
)

// Well-known development key; address is fixed.
const devKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestParseCredential(t *testing.T) {
	t.Run("derives address from key with or without prefix", func(t *testing.T) {
		for _, cred := range []string{devKey, "0x" + devKey, "  " + devKey + "\n"} {
			signer, err := ParseCredential(cred)
			require.NoError(t, err)
			assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", signer.Address().String())
		}
	})

	t.Run("empty credential is a validation error", func(t *testing.T) {
		_, err := ParseCredential("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("malformed credential does not echo input", func(t *testing.T) {
		_, err := ParseCredential("not-a-key-secret")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		assert.NotContains(t, err.Error(), "not-a-key-secret")
	})
}

func TestKeySignerSignsForChain(t *testing.T) {
	signer, err := ParseCredential(devKey)
	require.NoError(t, err)

	chainID := big.NewInt(31337)
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    0,
		To:       &common.Address{},
		Gas:      21000,
		GasPrice: big.NewInt(1),
		Value:    big.NewInt(0),
	})
	signed, err := signer.SignTx(tx, chainID)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, signer.Address().Common(), from)
}

func TestKeyResolver(t *testing.T) {
	signer, err := KeyResolver{}.Resolve(devKey)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", signer.Address().String())
}
