package execution

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/model"
)

// eventLog is shared by the fake wallet and observer so tests can assert the
// global order of effects.
type eventLog struct {
	mu     sync.Mutex
	events []string
	hashes []common.Hash
}

// hash records a hash handed to the observer at submission time.
func (l *eventLog) hash(h common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hashes = append(l.hashes, h)
}

func (l *eventLog) submittedHashes() []common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]common.Hash(nil), l.hashes...)
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func (l *eventLog) count(event string) int {
	n := 0
	for _, e := range l.snapshot() {
		if e == event {
			n++
		}
	}
	return n
}

type fakeWallet struct {
	id  string
	log *eventLog

	mu       sync.Mutex
	network  int64
	known    map[int64]bool
	sent     int
	inFlight int32
	overlaps int32

	switchErr  error
	addErr     error
	sendErr    error
	receiptErr func(req model.TransactionRequest) error
	hashes     map[common.Hash]model.TransactionRequest
}

func newFakeWallet(id string, network int64, log *eventLog, known ...int64) *fakeWallet {
	w := &fakeWallet{
		id:      id,
		log:     log,
		network: network,
		known:   map[int64]bool{network: true},
		hashes:  map[common.Hash]model.TransactionRequest{},
	}
	for _, c := range known {
		w.known[c] = true
	}
	return w
}

func (w *fakeWallet) ID() string { return w.id }

func (w *fakeWallet) CurrentNetwork(context.Context) (int64, error) {
	if atomic.AddInt32(&w.inFlight, 1) > 1 {
		atomic.AddInt32(&w.overlaps, 1)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.network, nil
}

func (w *fakeWallet) SwitchNetwork(_ context.Context, chainID int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.switchErr != nil {
		w.log.add("wallet:switch %d rejected", chainID)
		return w.switchErr
	}
	if !w.known[chainID] {
		w.log.add("wallet:switch %d unrecognized", chainID)
		return clierr.New(clierr.CodeUnrecognizedChain, fmt.Sprintf("chain %d not added", chainID))
	}
	w.log.add("wallet:switch %d", chainID)
	w.network = chainID
	return nil
}

func (w *fakeWallet) AddNetwork(_ context.Context, meta model.ChainMetadata) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.addErr != nil {
		w.log.add("wallet:add %d failed", meta.ChainID)
		return w.addErr
	}
	w.log.add("wallet:add %d", meta.ChainID)
	w.known[meta.ChainID] = true
	return nil
}

func (w *fakeWallet) SendTransaction(_ context.Context, req model.TransactionRequest) (common.Hash, error) {
	defer atomic.AddInt32(&w.inFlight, -1)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sendErr != nil {
		return common.Hash{}, w.sendErr
	}
	if req.ChainID != w.network {
		return common.Hash{}, fmt.Errorf("send for chain %d while wallet is on %d", req.ChainID, w.network)
	}
	w.sent++
	hash := crypto.Keccak256Hash([]byte(fmt.Sprintf("%s-%d", w.id, w.sent)))
	w.hashes[hash] = req
	w.log.add("wallet:send %s %d", req.Kind, req.ChainID)
	return hash, nil
}

func (w *fakeWallet) WaitForConfirmation(_ context.Context, _ int64, hash common.Hash) error {
	w.mu.Lock()
	req := w.hashes[hash]
	w.mu.Unlock()
	if w.receiptErr != nil {
		if err := w.receiptErr(req); err != nil {
			w.log.add("wallet:wait %s reverted", req.Kind)
			return err
		}
	}
	w.log.add("wallet:wait %s", req.Kind)
	return nil
}

type recordingObserver struct {
	BaseObserver
	log *eventLog
}

func (o recordingObserver) OnTx(step model.StepDescriptor) { o.log.add("on:tx %d", step.UserTxIndex) }
func (o recordingObserver) OnTxDone(step model.StepDescriptor, _ common.Hash) {
	o.log.add("on:tx-done %d", step.UserTxIndex)
}
func (o recordingObserver) OnChainSwitch(_ model.StepDescriptor, from, to int64) {
	o.log.add("on:switch %d->%d", from, to)
}
func (o recordingObserver) OnChainSwitchDone(_ model.StepDescriptor, to int64) {
	o.log.add("on:switch-done %d", to)
}
func (o recordingObserver) OnApprove(step model.StepDescriptor, _ model.TransactionRequest, hash common.Hash) {
	o.log.add("on:approve %d", step.UserTxIndex)
	o.log.hash(hash)
}
func (o recordingObserver) OnApproveDone(step model.StepDescriptor, _ common.Hash) {
	o.log.add("on:approve-done %d", step.UserTxIndex)
}
func (o recordingObserver) OnSend(step model.StepDescriptor, _ model.TransactionRequest, hash common.Hash) {
	o.log.add("on:send %d", step.UserTxIndex)
	o.log.hash(hash)
}
func (o recordingObserver) OnSendDone(step model.StepDescriptor, _ common.Hash) {
	o.log.add("on:send-done %d", step.UserTxIndex)
}

type fetchCall struct {
	routeID int64
	index   int
	total   int
	hash    string
}

// scriptedFetcher serves steps 1..total-1 of a route on the same chain unless
// steps overrides them.
type scriptedFetcher struct {
	mu       sync.Mutex
	total    int
	chainID  int64
	steps    map[int]*model.StepDescriptor
	failures int
	err      error
	calls    []fetchCall
}

func (f *scriptedFetcher) FetchNextStep(_ context.Context, routeID int64, index, total int, hash string) (*model.StepDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{routeID: routeID, index: index, total: total, hash: hash})
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	next := index + 1
	if next >= f.total {
		return nil, nil
	}
	if step, ok := f.steps[next]; ok {
		return step, nil
	}
	step := plainStep(next, f.total, f.chainID)
	return &step, nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type staticChains map[int64]model.ChainMetadata

func (c staticChains) Resolve(_ context.Context, chainID int64) (model.ChainMetadata, error) {
	if meta, ok := c[chainID]; ok {
		return meta, nil
	}
	return model.ChainMetadata{}, clierr.New(clierr.CodeUnknownChain, fmt.Sprintf("unknown chain id %d", chainID))
}

func plainStep(index, total int, chainID int64) model.StepDescriptor {
	return model.StepDescriptor{
		UserTxType:    model.UserTxTypeFundMovement,
		TxTarget:      gateway,
		ChainID:       chainID,
		TxData:        "0xdeadbeef",
		ActiveRouteID: 77,
		Value:         "0",
		UserTxIndex:   index,
		TotalUserTx:   total,
	}
}

func routeOf(steps ...model.StepDescriptor) model.Route {
	total := 0
	if len(steps) > 0 {
		total = steps[0].TotalUserTx
	}
	return model.Route{ActiveRouteID: 77, UserTxs: steps, TotalUserTx: total}
}

func noBackoff(int) time.Duration { return 0 }
