package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "remitgate/pkg/domain"
)

func TestMintAll(t *testing.T) {
	const addr = id.Address("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")

	t.Run("credits every pair", func(t *testing.T) {
		l := New()
		require.NoError(t, l.MintAll([]string{
			"0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266=500",
			addr.String() + "=250",
		}))

		assert.Equal(t, int64(750), l.Balance(addr).Int64())
	})

	t.Run("malformed pair mints nothing", func(t *testing.T) {
		l := New()
		err := l.MintAll([]string{addr.String() + "=500", "0x1234=10"})

		require.Error(t, err)
		assert.Zero(t, l.Balance(addr).Sign())
	})

	t.Run("missing separator", func(t *testing.T) {
		require.ErrorContains(t, New().MintAll([]string{addr.String()}), "want address=amount")
	})
}
