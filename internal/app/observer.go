package app

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/route-runner/internal/execution"
	"github.com/ggonzalez94/route-runner/internal/model"
	"go.uber.org/zap"
)

// logObserver reports route progress on the structured log.
type logObserver struct {
	log *zap.Logger
}

func newLogObserver(log *zap.Logger) execution.Observer {
	return logObserver{log: log}
}

func (o logObserver) step(step model.StepDescriptor) *zap.Logger {
	return o.log.With(
		zap.Int64("route_id", step.ActiveRouteID),
		zap.Int("step_index", step.UserTxIndex),
		zap.Int64("chain_id", step.ChainID),
	)
}

func (o logObserver) OnTx(step model.StepDescriptor) {
	o.step(step).Info("step started", zap.String("tx_target", step.TxTarget))
}

func (o logObserver) OnTxDone(step model.StepDescriptor, sendHash common.Hash) {
	o.step(step).Info("step done", zap.String("tx_hash", sendHash.Hex()))
}

func (o logObserver) OnChainSwitch(step model.StepDescriptor, from, to int64) {
	o.step(step).Info("wallet network switched", zap.Int64("from_chain_id", from), zap.Int64("to_chain_id", to))
}

func (o logObserver) OnChainSwitchDone(step model.StepDescriptor, to int64) {
	o.step(step).Debug("chain switch done", zap.Int64("to_chain_id", to))
}

func (o logObserver) OnApprove(step model.StepDescriptor, req model.TransactionRequest, hash common.Hash) {
	o.step(step).Info("token approval submitted", zap.String("token", req.To.Hex()), zap.String("tx_hash", hash.Hex()))
}

func (o logObserver) OnApproveDone(step model.StepDescriptor, hash common.Hash) {
	o.step(step).Info("approval confirmed", zap.String("tx_hash", hash.Hex()))
}

func (o logObserver) OnSend(step model.StepDescriptor, req model.TransactionRequest, hash common.Hash) {
	o.step(step).Info("step transaction submitted", zap.String("to", req.To.Hex()), zap.String("tx_hash", hash.Hex()))
}

func (o logObserver) OnSendDone(step model.StepDescriptor, hash common.Hash) {
	o.step(step).Info("step transaction confirmed", zap.String("tx_hash", hash.Hex()))
}
