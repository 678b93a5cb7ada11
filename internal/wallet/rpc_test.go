package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/model"
	"github.com/ggonzalez94/route-runner/internal/wallet/signer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSigner struct{}

func (staticSigner) Address() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

// SignRequest returns the unsigned transaction so tests can inspect it.
func (staticSigner) SignRequest(req model.TransactionRequest, p signer.TxParams) (*types.Transaction, error) {
	to := req.To
	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(req.ChainID),
		Nonce:     p.Nonce,
		GasTipCap: p.GasTipCap,
		GasFeeCap: p.GasFeeCap,
		Gas:       p.GasLimit,
		To:        &to,
		Value:     value,
		Data:      req.Data,
	}), nil
}

type fakeBackend struct {
	mu       sync.Mutex
	chainID  int64
	baseFee  *big.Int
	nonce    uint64
	sent     []*types.Transaction
	receipts map[common.Hash]*types.Receipt
	notFound int
	closed   bool
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(b.chainID), nil }
func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}
func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: b.baseFee}, nil
}
func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonce, nil
}
func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, tx)
	b.nonce++
	return nil
}
func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.notFound > 0 {
		b.notFound--
		return nil, ethereum.NotFound
	}
	if r, ok := b.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}
func (b *fakeBackend) Close() { b.closed = true }

func newTestRPCWallet(backends map[string]*fakeBackend, rpcs map[int64]string, opts ...RPCOption) *RPCWallet {
	dial := func(_ context.Context, url string) (Backend, error) {
		b, ok := backends[url]
		if !ok {
			return nil, errors.New("dial refused")
		}
		return b, nil
	}
	opts = append([]RPCOption{WithDialer(dial), WithSendOptions(SendOptions{PollInterval: 5 * time.Millisecond, GasMultiplier: 1.5})}, opts...)
	return NewRPCWallet(staticSigner{}, rpcs, opts...)
}

func TestRPCWalletSwitchRequiresKnownNetwork(t *testing.T) {
	base := &fakeBackend{chainID: 8453}
	w := newTestRPCWallet(map[string]*fakeBackend{"https://base.example": base}, nil)

	err := w.SwitchNetwork(context.Background(), 8453)
	require.Error(t, err)
	assert.True(t, clierr.IsUnrecognizedChain(err))

	require.NoError(t, w.AddNetwork(context.Background(), model.ChainMetadata{ChainID: 8453, RPCs: []string{"https://base.example"}}))
	require.NoError(t, w.SwitchNetwork(context.Background(), 8453))
	current, err := w.CurrentNetwork(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(8453), current)
}

func TestRPCWalletAddNetworkPrefersOverride(t *testing.T) {
	local := &fakeBackend{chainID: 8453}
	w := newTestRPCWallet(map[string]*fakeBackend{"http://127.0.0.1:8545": local}, map[int64]string{8453: "http://127.0.0.1:8545"})
	require.NoError(t, w.AddNetwork(context.Background(), model.ChainMetadata{ChainID: 8453, RPCs: []string{"https://base.example"}}))
	require.NoError(t, w.SwitchNetwork(context.Background(), 8453))
}

func TestRPCWalletAddNetworkWithoutRPCFails(t *testing.T) {
	w := newTestRPCWallet(nil, nil)
	err := w.AddNetwork(context.Background(), model.ChainMetadata{ChainID: 7})
	assert.True(t, clierr.IsUnknownChain(err))
}

func TestRPCWalletSwitchRejectsMismatchedRPC(t *testing.T) {
	wrong := &fakeBackend{chainID: 1}
	w := newTestRPCWallet(map[string]*fakeBackend{"https://base.example": wrong}, map[int64]string{8453: "https://base.example"})
	err := w.SwitchNetwork(context.Background(), 8453)
	require.Error(t, err)
	typed, ok := clierr.As(err)
	require.True(t, ok)
	assert.Equal(t, clierr.CodeUnsupported, typed.Code)
}

func TestRPCWalletSendBuildsDynamicFeeTx(t *testing.T) {
	base := &fakeBackend{chainID: 8453, baseFee: big.NewInt(3_000_000_000), nonce: 7}
	w := newTestRPCWallet(map[string]*fakeBackend{"https://base.example": base}, map[int64]string{8453: "https://base.example"}, WithInitialNetwork(8453))

	to := common.HexToAddress("0x3a23F943181408EAC424116Af7b7790c94Cb97a5")
	hash, err := w.SendTransaction(context.Background(), model.TransactionRequest{
		Kind:    model.TxKindSend,
		To:      to,
		Data:    []byte{0xde, 0xad},
		Value:   big.NewInt(5),
		ChainID: 8453,
	})
	require.NoError(t, err)
	require.Len(t, base.sent, 1)
	tx := base.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(150_000), tx.Gas())
	assert.Equal(t, big.NewInt(1_000_000_000), tx.GasTipCap())
	assert.Equal(t, big.NewInt(7_000_000_000), tx.GasFeeCap())
	assert.Equal(t, &to, tx.To())
	assert.Equal(t, big.NewInt(8453), tx.ChainId())
}

func TestRPCWalletSendRejectsWrongNetwork(t *testing.T) {
	w := newTestRPCWallet(nil, nil, WithInitialNetwork(1))
	_, err := w.SendTransaction(context.Background(), model.TransactionRequest{ChainID: 10})
	require.Error(t, err)
}

func TestRPCWalletSendRejectsForeignSender(t *testing.T) {
	base := &fakeBackend{chainID: 8453}
	w := newTestRPCWallet(map[string]*fakeBackend{"https://base.example": base}, map[int64]string{8453: "https://base.example"}, WithInitialNetwork(8453))
	_, err := w.SendTransaction(context.Background(), model.TransactionRequest{ChainID: 8453, From: common.HexToAddress("0xbb")})
	typed, ok := clierr.As(err)
	require.True(t, ok)
	assert.Equal(t, clierr.CodeSigner, typed.Code)
	assert.Empty(t, base.sent)
}

func TestRPCWalletWaitForConfirmation(t *testing.T) {
	okHash := common.HexToHash("0x01")
	revertedHash := common.HexToHash("0x02")
	base := &fakeBackend{chainID: 8453, notFound: 2, receipts: map[common.Hash]*types.Receipt{
		okHash:       {Status: types.ReceiptStatusSuccessful},
		revertedHash: {Status: types.ReceiptStatusFailed},
	}}
	w := newTestRPCWallet(map[string]*fakeBackend{"https://base.example": base}, map[int64]string{8453: "https://base.example"})

	require.NoError(t, w.WaitForConfirmation(context.Background(), 8453, okHash))
	err := w.WaitForConfirmation(context.Background(), 8453, revertedHash)
	assert.True(t, clierr.IsReceipt(err))
}

func TestRPCWalletWaitForConfirmationTimeout(t *testing.T) {
	base := &fakeBackend{chainID: 8453}
	w := newTestRPCWallet(map[string]*fakeBackend{"https://base.example": base}, map[int64]string{8453: "https://base.example"},
		WithSendOptions(SendOptions{PollInterval: 5 * time.Millisecond, ConfirmTimeout: 30 * time.Millisecond}))
	err := w.WaitForConfirmation(context.Background(), 8453, common.HexToHash("0x03"))
	require.Error(t, err)
	assert.True(t, clierr.IsReceipt(err))
}

func TestRPCWalletCloseClosesClients(t *testing.T) {
	base := &fakeBackend{chainID: 8453}
	w := newTestRPCWallet(map[string]*fakeBackend{"https://base.example": base}, map[int64]string{8453: "https://base.example"})
	require.NoError(t, w.SwitchNetwork(context.Background(), 8453))
	w.Close()
	assert.True(t, base.closed)
}

func TestAcquireSignerNonceLockSerializesSameSignerChain(t *testing.T) {
	unlock := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	secondAcquired := make(chan struct{})
	go func() {
		unlockSecond := acquireSignerNonceLock(big.NewInt(1), common.HexToAddress("0x00000000000000000000000000000000000000aa"))
		close(secondAcquired)
		unlockSecond()
	}()

	select {
	case <-secondAcquired:
		t.Fatal("expected second lock attempt to block while first lock is held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	select {
	case <-secondAcquired:
	case <-time.After(250 * time.Millisecond):
		t.Fatal("expected second lock attempt to acquire after unlock")
	}
}

func TestParseGwei(t *testing.T) {
	v, err := parseGwei("1.5")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_500_000_000), v)

	_, err = parseGwei("-1")
	assert.Error(t, err)
	_, err = parseGwei("0.0000000001")
	assert.Error(t, err)
}

func TestResolveFeeCapOverride(t *testing.T) {
	_, err := resolveFeeCap(big.NewInt(1), big.NewInt(5_000_000_000), "2")
	require.Error(t, err)
	v, err := resolveFeeCap(big.NewInt(1), big.NewInt(1_000_000_000), "2")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2_000_000_000), v)
}
