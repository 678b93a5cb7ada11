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
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ggonzalez94/route-runner/internal/chains"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/logging"
	"github.com/ggonzalez94/route-runner/internal/model"
	"go.uber.org/zap"
)

// ChainResolver looks up chain metadata; *chains.Registry satisfies it.
type ChainResolver interface {
	Resolve(ctx context.Context, chainID int64) (model.ChainMetadata, error)
}

// BrowserWallet drives an external EIP-1193 wallet exposed over JSON-RPC
// (a desktop wallet or wallet bridge). The wallet owns keys and network
// selection; every request may be refused by its user.
//
// Receipts are read from a per-chain RPC endpoint, not through the wallet,
// because other routes may move the wallet to another network while a
// transaction is confirming.
type BrowserWallet struct {
	client    *rpc.Client
	url       string
	opts      SendOptions
	log       *zap.Logger
	resolver  ChainResolver
	overrides map[int64]string
	dial      Dialer

	mu       sync.Mutex
	account  common.Address
	added    map[int64]model.ChainMetadata
	receipts map[int64]Backend
}

type BrowserOption func(*BrowserWallet)

// WithReceiptSource sets where per-chain receipt endpoints come from.
// overrides win over the resolved chain's public RPCs.
func WithReceiptSource(resolver ChainResolver, overrides map[int64]string) BrowserOption {
	return func(w *BrowserWallet) {
		w.resolver = resolver
		for id, url := range overrides {
			if url = strings.TrimSpace(url); url != "" {
				w.overrides[id] = url
			}
		}
	}
}

func WithBrowserDialer(d Dialer) BrowserOption {
	return func(w *BrowserWallet) { w.dial = d }
}

func DialBrowserWallet(ctx context.Context, url string, opts SendOptions, log *zap.Logger, options ...BrowserOption) (*BrowserWallet, error) {
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect wallet", err)
	}
	return NewBrowserWallet(client, url, opts, log, options...), nil
}

func NewBrowserWallet(client *rpc.Client, url string, opts SendOptions, log *zap.Logger, options ...BrowserOption) *BrowserWallet {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	w := &BrowserWallet{
		client:    client,
		url:       url,
		opts:      opts,
		log:       logging.OrNop(log),
		overrides: map[int64]string{},
		dial:      dialEthclient,
		added:     map[int64]model.ChainMetadata{},
		receipts:  map[int64]Backend{},
	}
	for _, opt := range options {
		opt(w)
	}
	return w
}

func (w *BrowserWallet) ID() string { return "external:" + strings.ToLower(w.url) }

func (w *BrowserWallet) CurrentNetwork(ctx context.Context) (int64, error) {
	var id hexutil.Uint64
	if err := w.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return 0, mapProviderError("read wallet network", err)
	}
	return int64(id), nil
}

type switchChainParam struct {
	ChainID string `json:"chainId"`
}

func (w *BrowserWallet) SwitchNetwork(ctx context.Context, chainID int64) error {
	param := switchChainParam{ChainID: hexutil.EncodeUint64(uint64(chainID))}
	if err := w.client.CallContext(ctx, nil, "wallet_switchEthereumChain", param); err != nil {
		return mapProviderError(fmt.Sprintf("switch wallet to chain %d", chainID), err)
	}
	return nil
}

func (w *BrowserWallet) AddNetwork(ctx context.Context, meta model.ChainMetadata) error {
	if err := w.client.CallContext(ctx, nil, "wallet_addEthereumChain", chains.AddChainParams(meta)); err != nil {
		return mapProviderError(fmt.Sprintf("add chain %d to wallet", meta.ChainID), err)
	}
	w.mu.Lock()
	w.added[meta.ChainID] = meta
	w.mu.Unlock()
	return nil
}

type sendTxParam struct {
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Data    hexutil.Bytes  `json:"data"`
	Value   *hexutil.Big   `json:"value"`
	ChainID hexutil.Uint64 `json:"chainId"`
}

func (w *BrowserWallet) SendTransaction(ctx context.Context, req model.TransactionRequest) (common.Hash, error) {
	from := req.From
	if from == (common.Address{}) {
		var err error
		if from, err = w.accountAddress(ctx); err != nil {
			return common.Hash{}, err
		}
	}
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}
	param := sendTxParam{
		From:    from,
		To:      req.To,
		Data:    req.Data,
		Value:   (*hexutil.Big)(value),
		ChainID: hexutil.Uint64(req.ChainID),
	}
	var hash common.Hash
	if err := w.client.CallContext(ctx, &hash, "eth_sendTransaction", param); err != nil {
		return common.Hash{}, mapProviderError(fmt.Sprintf("send %s transaction", req.Kind), err)
	}
	return hash, nil
}

type receiptStatus struct {
	Status      hexutil.Uint64 `json:"status"`
	BlockNumber *hexutil.Big   `json:"blockNumber"`
}

// WaitForConfirmation polls for the receipt on chainID. When no RPC endpoint
// is known for chainID it falls back to the wallet, polling only while the
// wallet is on that chain.
func (w *BrowserWallet) WaitForConfirmation(ctx context.Context, chainID int64, hash common.Hash) error {
	backend, err := w.receiptBackend(ctx, chainID)
	if err != nil {
		w.log.Debug("no receipt endpoint, polling through wallet", zap.Int64("chain_id", chainID), zap.Error(err))
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
		mined, ok, err := w.pollReceipt(waitCtx, backend, chainID, hash)
		if err == nil && mined {
			if ok {
				return nil
			}
			return clierr.New(clierr.CodeReceipt, fmt.Sprintf("transaction %s reverted on-chain", hash.Hex()))
		}
		if err != nil && waitCtx.Err() == nil {
			w.log.Debug("receipt poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}
		select {
		case <-waitCtx.Done():
			return clierr.Wrap(clierr.CodeReceipt, fmt.Sprintf("confirmation of %s not observed", hash.Hex()), waitCtx.Err())
		case <-ticker.C:
		}
	}
}

// pollReceipt reports whether hash is mined and whether it succeeded.
func (w *BrowserWallet) pollReceipt(ctx context.Context, backend Backend, chainID int64, hash common.Hash) (bool, bool, error) {
	if backend != nil {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if errors.Is(err, ethereum.NotFound) {
			return false, false, nil
		}
		if err != nil || receipt == nil {
			return false, false, err
		}
		return true, receipt.Status == types.ReceiptStatusSuccessful, nil
	}
	current, err := w.CurrentNetwork(ctx)
	if err != nil {
		return false, false, err
	}
	if current != chainID {
		return false, false, nil
	}
	var receipt *receiptStatus
	if err := w.client.CallContext(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return false, false, err
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return false, false, nil
	}
	return true, receipt.Status == 1, nil
}

func (w *BrowserWallet) receiptBackend(ctx context.Context, chainID int64) (Backend, error) {
	w.mu.Lock()
	if c, ok := w.receipts[chainID]; ok {
		w.mu.Unlock()
		return c, nil
	}
	rpcURL, ok := w.overrides[chainID]
	meta, added := w.added[chainID]
	w.mu.Unlock()

	if !ok {
		if !added {
			if w.resolver == nil {
				return nil, clierr.New(clierr.CodeUnknownChain, fmt.Sprintf("no rpc endpoint for chain %d", chainID))
			}
			var err error
			if meta, err = w.resolver.Resolve(ctx, chainID); err != nil {
				return nil, err
			}
		}
		var err error
		if rpcURL, err = chains.RPCURL(w.overrides, meta); err != nil {
			return nil, clierr.Wrap(clierr.CodeUnknownChain, "receipt endpoint", err)
		}
	}
	c, err := w.dial(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect rpc", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if existing, ok := w.receipts[chainID]; ok {
		c.Close()
		return existing, nil
	}
	w.receipts[chainID] = c
	return c, nil
}

func (w *BrowserWallet) Close() {
	w.mu.Lock()
	for id, c := range w.receipts {
		c.Close()
		delete(w.receipts, id)
	}
	w.mu.Unlock()
	w.client.Close()
}

func (w *BrowserWallet) accountAddress(ctx context.Context) (common.Address, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.account != (common.Address{}) {
		return w.account, nil
	}
	var accounts []common.Address
	if err := w.client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return common.Address{}, mapProviderError("request wallet accounts", err)
	}
	if len(accounts) == 0 {
		return common.Address{}, clierr.New(clierr.CodeWalletRejected, "wallet exposed no accounts")
	}
	w.account = accounts[0]
	return w.account, nil
}
