package ledger

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	id "remitgate/pkg/domain"
	dErrors "remitgate/pkg/domain-errors"
)

// Signer authorizes ledger submissions on behalf of one account.
type Signer interface {
	Address() id.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// KeySigner signs with an in-memory secp256k1 key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address id.Address
}

// NewKeySigner derives the account address from key.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: id.AddressFrom(crypto.PubkeyToAddress(key.PublicKey))}
}

// ParseCredential decodes a hex private key credential, with or without 0x.
// The error never echoes the credential.
func ParseCredential(credential string) (*KeySigner, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(credential), "0x")
	if raw == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "credential is required")
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "credential is not a valid private key")
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() id.Address { return s.address }

func (s *KeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// CredentialResolver turns caller credential material into a Signer.
type CredentialResolver interface {
	Resolve(credential string) (Signer, error)
}

// KeyResolver resolves hex private key credentials.
type KeyResolver struct{}

func (KeyResolver) Resolve(credential string) (Signer, error) {
	return ParseCredential(credential)
}
