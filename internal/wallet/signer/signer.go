// Package signer holds the local key a headless wallet signs step
// transactions with.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/model"
)

// TxParams are the network-dependent fields the wallet resolves for a
// request before it is signed.
type TxParams struct {
	Nonce     uint64
	GasLimit  uint64
	GasTipCap *big.Int
	GasFeeCap *big.Int
}

// Signer turns a route transaction request into a signed dynamic-fee
// transaction for req.ChainID.
type Signer interface {
	Address() common.Address
	SignRequest(req model.TransactionRequest, params TxParams) (*types.Transaction, error)
}

type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

func newLocalSigner(key *ecdsa.PrivateKey) *LocalSigner {
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *LocalSigner) Address() common.Address { return s.address }

// SignRequest rejects requests addressed from another account.
func (s *LocalSigner) SignRequest(req model.TransactionRequest, params TxParams) (*types.Transaction, error) {
	if req.From != (common.Address{}) && req.From != s.address {
		return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("%s request expects sender %s, signer is %s", req.Kind, req.From.Hex(), s.address.Hex()))
	}
	if req.ChainID <= 0 {
		return nil, clierr.New(clierr.CodeSigner, fmt.Sprintf("%s request has no chain id", req.Kind))
	}
	if params.GasTipCap == nil || params.GasFeeCap == nil {
		return nil, clierr.New(clierr.CodeSigner, "fee caps are required")
	}
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	chainID := big.NewInt(req.ChainID)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     params.Nonce,
		GasTipCap: params.GasTipCap,
		GasFeeCap: params.GasFeeCap,
		Gas:       params.GasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeSigner, fmt.Sprintf("sign %s transaction", req.Kind), err)
	}
	return signed, nil
}
