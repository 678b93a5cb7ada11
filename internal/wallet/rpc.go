// Package wallet provides the wallet providers a route is executed against.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ggonzalez94/route-runner/internal/chains"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/logging"
	"github.com/ggonzalez94/route-runner/internal/model"
	"github.com/ggonzalez94/route-runner/internal/wallet/signer"
	"go.uber.org/zap"
)

// Backend is the subset of *ethclient.Client used by RPCWallet.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

type Dialer func(ctx context.Context, rpcURL string) (Backend, error)

func dialEthclient(ctx context.Context, rpcURL string) (Backend, error) {
	return ethclient.DialContext(ctx, rpcURL)
}

type SendOptions struct {
	PollInterval       time.Duration
	ConfirmTimeout     time.Duration
	GasMultiplier      float64
	MaxFeeGwei         string
	MaxPriorityFeeGwei string
}

func DefaultSendOptions() SendOptions {
	return SendOptions{
		PollInterval:  2 * time.Second,
		GasMultiplier: 1.2,
	}
}

// RPCWallet is a headless wallet: a local signer plus one JSON-RPC endpoint per
// chain. It only knows chains it has an RPC URL for; switching to any other
// chain reports an unrecognized-chain error until AddNetwork registers it.
type RPCWallet struct {
	signer    signer.Signer
	overrides map[int64]string
	opts      SendOptions
	dial      Dialer
	log       *zap.Logger

	mu      sync.Mutex
	current int64
	rpcs    map[int64]string
	clients map[int64]Backend
}

type RPCOption func(*RPCWallet)

func WithDialer(d Dialer) RPCOption {
	return func(w *RPCWallet) { w.dial = d }
}

func WithSendOptions(opts SendOptions) RPCOption {
	return func(w *RPCWallet) { w.opts = opts }
}

func WithRPCLogger(l *zap.Logger) RPCOption {
	return func(w *RPCWallet) { w.log = logging.OrNop(l) }
}

// WithInitialNetwork sets the network the wallet reports before any switch.
func WithInitialNetwork(chainID int64) RPCOption {
	return func(w *RPCWallet) { w.current = chainID }
}

// NewRPCWallet knows the chains in rpcURLs up front. The same map is used as
// an override when chains are added later.
func NewRPCWallet(txSigner signer.Signer, rpcURLs map[int64]string, opts ...RPCOption) *RPCWallet {
	w := &RPCWallet{
		signer:    txSigner,
		overrides: map[int64]string{},
		opts:      DefaultSendOptions(),
		dial:      dialEthclient,
		log:       zap.NewNop(),
		rpcs:      map[int64]string{},
		clients:   map[int64]Backend{},
	}
	for id, url := range rpcURLs {
		if strings.TrimSpace(url) == "" {
			continue
		}
		w.overrides[id] = strings.TrimSpace(url)
		w.rpcs[id] = strings.TrimSpace(url)
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.opts.PollInterval <= 0 {
		w.opts.PollInterval = 2 * time.Second
	}
	return w
}

func (w *RPCWallet) ID() string {
	return "local:" + strings.ToLower(w.signer.Address().Hex())
}

func (w *RPCWallet) Address() common.Address { return w.signer.Address() }

func (w *RPCWallet) CurrentNetwork(context.Context) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current, nil
}

func (w *RPCWallet) SwitchNetwork(ctx context.Context, chainID int64) error {
	client, err := w.client(ctx, chainID)
	if err != nil {
		return err
	}
	got, err := client.ChainID(ctx)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnavailable, "read chain id", err)
	}
	if got.Int64() != chainID {
		return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("rpc for chain %d reports chain id %d", chainID, got.Int64()))
	}
	w.mu.Lock()
	w.current = chainID
	w.mu.Unlock()
	w.log.Debug("wallet network switched", zap.Int64("chain_id", chainID))
	return nil
}

func (w *RPCWallet) AddNetwork(_ context.Context, meta model.ChainMetadata) error {
	rpcURL, err := chains.RPCURL(w.overrides, meta)
	if err != nil {
		return clierr.Wrap(clierr.CodeUnknownChain, "add network", err)
	}
	w.mu.Lock()
	w.rpcs[meta.ChainID] = rpcURL
	w.mu.Unlock()
	return nil
}

// SendTransaction signs req with the local key and broadcasts it on the
// current network.
func (w *RPCWallet) SendTransaction(ctx context.Context, req model.TransactionRequest) (common.Hash, error) {
	w.mu.Lock()
	current := w.current
	w.mu.Unlock()
	if req.ChainID != current {
		return common.Hash{}, clierr.New(clierr.CodeUnsupported, fmt.Sprintf("wallet is on chain %d, request targets chain %d", current, req.ChainID))
	}
	from := w.signer.Address()
	if req.From != (common.Address{}) && req.From != from {
		return common.Hash{}, clierr.New(clierr.CodeSigner, fmt.Sprintf("request expects sender %s, signer is %s", req.From.Hex(), from.Hex()))
	}
	client, err := w.client(ctx, req.ChainID)
	if err != nil {
		return common.Hash{}, err
	}
	chainID := big.NewInt(req.ChainID)
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	target := req.To
	msg := ethereum.CallMsg{From: from, To: &target, Value: value, Data: req.Data}

	gasLimit, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "estimate gas", err)
	}
	gasLimit = applyGasMultiplier(gasLimit, w.opts.GasMultiplier)

	tipCap, err := resolveTipCap(ctx, client, w.opts.MaxPriorityFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}
	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch latest header", err)
	}
	baseFee := header.BaseFee
	if baseFee == nil {
		baseFee = big.NewInt(1_000_000_000)
	}
	feeCap, err := resolveFeeCap(baseFee, tipCap, w.opts.MaxFeeGwei)
	if err != nil {
		return common.Hash{}, err
	}

	unlock := acquireSignerNonceLock(chainID, from)
	defer unlock()
	nonce, err := client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "fetch nonce", err)
	}
	signed, err := w.signer.SignRequest(req, signer.TxParams{
		Nonce:     nonce,
		GasLimit:  gasLimit,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
	})
	if err != nil {
		return common.Hash{}, err
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, clierr.Wrap(clierr.CodeUnavailable, "broadcast transaction", err)
	}
	w.log.Debug("transaction broadcast",
		zap.Int64("chain_id", req.ChainID),
		zap.String("kind", string(req.Kind)),
		zap.Uint64("nonce", nonce),
		zap.String("tx_hash", signed.Hash().Hex()),
	)
	return signed.Hash(), nil
}

// WaitForConfirmation polls for the receipt. Without a confirm timeout it
// waits until ctx is done.
func (w *RPCWallet) WaitForConfirmation(ctx context.Context, chainID int64, hash common.Hash) error {
	client, err := w.client(ctx, chainID)
	if err != nil {
		return err
	}
	waitCtx := ctx
	if w.opts.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.opts.ConfirmTimeout)
		defer cancel()
	}
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		receipt, err := client.TransactionReceipt(waitCtx, hash)
		if err == nil && receipt != nil {
			if receipt.Status == types.ReceiptStatusSuccessful {
				return nil
			}
			return clierr.New(clierr.CodeReceipt, fmt.Sprintf("transaction %s reverted on-chain", hash.Hex()))
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && waitCtx.Err() == nil {
			w.log.Debug("receipt poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}
		select {
		case <-waitCtx.Done():
			return clierr.Wrap(clierr.CodeReceipt, fmt.Sprintf("confirmation of %s not observed", hash.Hex()), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (w *RPCWallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, c := range w.clients {
		c.Close()
		delete(w.clients, id)
	}
}

func (w *RPCWallet) client(ctx context.Context, chainID int64) (Backend, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if c, ok := w.clients[chainID]; ok {
		return c, nil
	}
	rpcURL, ok := w.rpcs[chainID]
	if !ok {
		return nil, clierr.New(clierr.CodeUnrecognizedChain, fmt.Sprintf("wallet has no network for chain %d", chainID))
	}
	c, err := w.dial(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}
	w.clients[chainID] = c
	return c, nil
}

var signerNonceLocks sync.Map

// acquireSignerNonceLock serializes nonce reads and broadcasts per signer and chain.
func acquireSignerNonceLock(chainID *big.Int, address common.Address) func() {
	key := chainID.String() + ":" + strings.ToLower(address.Hex())
	v, _ := signerNonceLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
