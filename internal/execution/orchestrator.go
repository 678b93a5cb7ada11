package execution

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/logging"
	"github.com/ggonzalez94/route-runner/internal/model"
	"go.uber.org/zap"
)

// Wallet is the provider capability set the orchestrator drives.
// Implementations report typed errors: an unrecognized-chain error from
// SwitchNetwork, wallet-rejected on user refusal and a receipt error from
// WaitForConfirmation on revert.
type Wallet interface {
	ID() string
	CurrentNetwork(ctx context.Context) (int64, error)
	SwitchNetwork(ctx context.Context, chainID int64) error
	AddNetwork(ctx context.Context, meta model.ChainMetadata) error
	SendTransaction(ctx context.Context, req model.TransactionRequest) (common.Hash, error)
	WaitForConfirmation(ctx context.Context, chainID int64, hash common.Hash) error
}

type ChainResolver interface {
	Resolve(ctx context.Context, chainID int64) (model.ChainMetadata, error)
}

// Observer receives progress notifications. Every start method is paired with
// a Done method invoked once the associated action has completed. Each method
// fires at most once per step.
//
// OnChainSwitch fires only once the wallet has actually moved to the step
// chain. OnApprove and OnSend carry the hash as soon as the wallet returns it;
// their Done methods fire after on-chain confirmation.
type Observer interface {
	OnTx(step model.StepDescriptor)
	OnTxDone(step model.StepDescriptor, sendHash common.Hash)
	OnChainSwitch(step model.StepDescriptor, from, to int64)
	OnChainSwitchDone(step model.StepDescriptor, to int64)
	OnApprove(step model.StepDescriptor, req model.TransactionRequest, hash common.Hash)
	OnApproveDone(step model.StepDescriptor, hash common.Hash)
	OnSend(step model.StepDescriptor, req model.TransactionRequest, hash common.Hash)
	OnSendDone(step model.StepDescriptor, hash common.Hash)
}

// BaseObserver implements Observer with no-ops; embed it to override a subset.
type BaseObserver struct{}

func (BaseObserver) OnTx(model.StepDescriptor) {}
func (BaseObserver) OnTxDone(model.StepDescriptor, common.Hash) {}
func (BaseObserver) OnChainSwitch(model.StepDescriptor, int64, int64) {}
func (BaseObserver) OnChainSwitchDone(model.StepDescriptor, int64) {}
func (BaseObserver) OnApprove(model.StepDescriptor, model.TransactionRequest, common.Hash) {}
func (BaseObserver) OnApproveDone(model.StepDescriptor, common.Hash) {}
func (BaseObserver) OnSend(model.StepDescriptor, model.TransactionRequest, common.Hash) {}
func (BaseObserver) OnSendDone(model.StepDescriptor, common.Hash) {}

// Orchestrator executes routes end to end against one wallet.
type Orchestrator struct {
	executor *RouteExecutor
	wallet   Wallet
	chains   ChainResolver
	observer Observer
	recorder Recorder
	log      *zap.Logger
}

type OrchestratorOption func(*Orchestrator)

func WithObserver(o Observer) OrchestratorOption {
	return func(orc *Orchestrator) {
		if o != nil {
			orc.observer = o
		}
	}
}

func WithRecorder(r Recorder) OrchestratorOption {
	return func(orc *Orchestrator) { orc.recorder = r }
}

func WithLogger(l *zap.Logger) OrchestratorOption {
	return func(orc *Orchestrator) { orc.log = logging.OrNop(l) }
}

func NewOrchestrator(executor *RouteExecutor, wallet Wallet, chains ChainResolver, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		executor: executor,
		wallet:   wallet,
		chains:   chains,
		observer: BaseObserver{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run holds the per-execution state of one Run call.
type run struct {
	o      *Orchestrator
	seq    *Sequence
	record Record
	log    *zap.Logger
}

// Run drives route to completion. On a fatal error the execution is aborted:
// earlier confirmed steps stay on chain and the returned record and
// *StepError describe where it stopped.
func (o *Orchestrator) Run(ctx context.Context, route model.Route) (Record, error) {
	if o.wallet == nil {
		return Record{}, clierr.New(clierr.CodeUsage, "missing wallet")
	}
	seq, err := o.executor.Start(route)
	if err != nil {
		return Record{}, err
	}
	r := &run{
		o:      o,
		seq:    seq,
		record: NewRecord(NewExecutionID(), seq.RouteID(), o.wallet.ID(), seq.Total()),
		log: o.log.With(
			zap.Int64("route_id", seq.RouteID()),
			zap.String("wallet", o.wallet.ID()),
		),
	}
	r.save()

	for {
		step, ok := seq.Next()
		if !ok {
			r.transition(StatusCompleted)
			return r.record, nil
		}
		if err := r.executeStep(ctx, step); err != nil {
			r.abort(err)
			return r.record, err
		}
	}
}

func (r *run) executeStep(ctx context.Context, tx StepTransaction) error {
	step := tx.Descriptor()
	log := r.log.With(zap.Int("step_index", step.UserTxIndex), zap.Int64("chain_id", step.ChainID))
	rec := r.record.step(step.UserTxIndex)
	rec.ChainID = step.ChainID
	rec.TxTarget = step.TxTarget
	r.transition(StatusStepPending)
	r.o.observer.OnTx(step)

	switched := false
	approveReq, err := tx.GetApproveTransaction()
	if err != nil {
		return r.fail(step, SubActionBuildApproval, err)
	}
	if approveReq != nil {
		r.transition(StatusApproving)
		hash, err := r.submit(ctx, step, &switched, *approveReq, SubActionApprove)
		if err != nil {
			return err
		}
		rec = r.record.step(step.UserTxIndex)
		rec.ApprovalHash = hash.Hex()
		r.save()
		log.Info("approval submitted", zap.String("tx_hash", hash.Hex()))
		r.o.observer.OnApprove(step, *approveReq, hash)
		if err := r.o.wallet.WaitForConfirmation(ctx, step.ChainID, hash); err != nil {
			return r.fail(step, SubActionWaitApproval, err)
		}
		rec = r.record.step(step.UserTxIndex)
		rec.Status = StepStatusApprovalConfirmed
		r.save()
		r.o.observer.OnApproveDone(step, hash)
		log.Info("approval confirmed", zap.String("tx_hash", hash.Hex()))
	}

	sendReq, err := tx.GetSendTransaction()
	if err != nil {
		return r.fail(step, SubActionBuildSend, err)
	}
	r.transition(StatusSending)
	hash, err := r.submit(ctx, step, &switched, *sendReq, SubActionSend)
	if err != nil {
		return err
	}
	rec = r.record.step(step.UserTxIndex)
	rec.SendHash = hash.Hex()
	rec.Status = StepStatusSubmitted
	r.transition(StatusConfirming)
	log.Info("transaction submitted", zap.String("tx_hash", hash.Hex()))
	r.o.observer.OnSend(step, *sendReq, hash)
	if err := r.o.wallet.WaitForConfirmation(ctx, step.ChainID, hash); err != nil {
		return r.fail(step, SubActionWaitSend, err)
	}
	rec = r.record.step(step.UserTxIndex)
	rec.Status = StepStatusConfirmed
	r.save()
	r.o.observer.OnSendDone(step, hash)
	log.Info("transaction confirmed", zap.String("tx_hash", hash.Hex()))

	r.transition(StatusNextStepPending)
	if err := r.seq.Advance(ctx, hash.Hex()); err != nil {
		return r.fail(step, SubActionAdvance, err)
	}
	r.o.observer.OnTxDone(step, hash)
	return nil
}

// submit holds the wallet network lock while it ensures the step chain and
// hands req to the wallet. The lock is released before confirmation waits.
func (r *run) submit(ctx context.Context, step model.StepDescriptor, switched *bool, req model.TransactionRequest, subAction string) (common.Hash, error) {
	unlock, err := acquireWalletNetworkLock(ctx, r.o.wallet.ID())
	if err != nil {
		return common.Hash{}, r.fail(step, SubActionSwitchChain, clierr.Wrap(clierr.CodeInternal, "acquire wallet network lock", err))
	}
	defer unlock()

	if err := r.ensureChain(ctx, step, switched); err != nil {
		return common.Hash{}, err
	}
	hash, err := r.o.wallet.SendTransaction(ctx, req)
	if err != nil {
		return common.Hash{}, r.fail(step, subAction, err)
	}
	return hash, nil
}

// ensureChain is a no-op when the wallet already sits on the step chain.
// Otherwise it switches, adding the chain first when the wallet does not know
// it, and retries the switch exactly once.
func (r *run) ensureChain(ctx context.Context, step model.StepDescriptor, switched *bool) error {
	target := step.ChainID
	current, err := r.o.wallet.CurrentNetwork(ctx)
	if err != nil {
		return r.fail(step, SubActionNetwork, err)
	}
	if current == target {
		return nil
	}
	log := r.log.With(zap.Int("step_index", step.UserTxIndex), zap.Int64("chain_id", target))
	log.Info("switching wallet network", zap.Int64("from_chain_id", current))

	err = r.o.wallet.SwitchNetwork(ctx, target)
	if err != nil {
		if !clierr.IsUnrecognizedChain(err) {
			return r.fail(step, SubActionSwitchChain, err)
		}
		if r.o.chains == nil {
			return r.fail(step, SubActionResolveChain, clierr.Wrap(clierr.CodeUnknownChain, fmt.Sprintf("no chain registry to add chain %d", target), err))
		}
		meta, rerr := r.o.chains.Resolve(ctx, target)
		if rerr != nil {
			return r.fail(step, SubActionResolveChain, rerr)
		}
		log.Info("wallet does not know chain; adding it", zap.String("chain_name", meta.Name))
		if aerr := r.o.wallet.AddNetwork(ctx, meta); aerr != nil {
			return r.fail(step, SubActionAddChain, aerr)
		}
		if err := r.o.wallet.SwitchNetwork(ctx, target); err != nil {
			return r.fail(step, SubActionSwitchChain, err)
		}
	}
	if !*switched {
		r.o.observer.OnChainSwitch(step, current, target)
		r.o.observer.OnChainSwitchDone(step, target)
	}
	*switched = true
	return nil
}

func (r *run) fail(step model.StepDescriptor, subAction string, err error) error {
	if se, ok := AsStepError(err); ok {
		return se
	}
	se := newStepError(r.seq.RouteID(), step.UserTxIndex, subAction, err)
	rec := r.record.step(step.UserTxIndex)
	rec.Status = StepStatusFailed
	rec.SubAction = subAction
	rec.Error = se.Err.Error()
	return se
}

func (r *run) abort(err error) {
	r.record.Error = err.Error()
	r.log.Error("route execution aborted", zap.Error(err))
	r.transition(StatusAborted)
}

func (r *run) transition(status Status) {
	if r.record.Status.Terminal() {
		return
	}
	r.record.Status = status
	r.log.Debug("execution state", zap.String("status", string(status)))
	r.save()
}

func (r *run) save() {
	if r.o.recorder == nil {
		return
	}
	r.record.Touch()
	if err := r.o.recorder.Save(r.record); err != nil {
		r.log.Warn("persist execution record", zap.Error(err))
	}
}
