package execution

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	clierr "github.com/ggonzalez94/route-runner/internal/errors"
	"github.com/ggonzalez94/route-runner/internal/model"
	"github.com/shopspring/decimal"
)

const erc20ApproveABI = `[
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}
]`

var stepERC20ABI = mustStepABI(erc20ApproveABI)

func mustStepABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// StepTransaction derives the wallet requests for one route step. Both
// derivations are pure and return equal results on every call.
type StepTransaction struct {
	step model.StepDescriptor
}

func NewStepTransaction(step model.StepDescriptor) StepTransaction {
	if step.ApprovalData != nil {
		approval := *step.ApprovalData
		step.ApprovalData = &approval
	}
	return StepTransaction{step: step}
}

// Descriptor returns a copy of the underlying step.
func (t StepTransaction) Descriptor() model.StepDescriptor {
	out := t.step
	if out.ApprovalData != nil {
		approval := *out.ApprovalData
		out.ApprovalData = &approval
	}
	return out
}

func (t StepTransaction) Index() int     { return t.step.UserTxIndex }
func (t StepTransaction) ChainID() int64 { return t.step.ChainID }

// GetApproveTransaction returns nil when the step needs no allowance.
func (t StepTransaction) GetApproveTransaction() (*model.TransactionRequest, error) {
	approval := t.step.ApprovalData
	if approval == nil || !approval.Required {
		return nil, nil
	}
	if !common.IsHexAddress(approval.Token) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("step %d approval has invalid token %q", t.step.UserTxIndex, approval.Token))
	}
	if !common.IsHexAddress(approval.Spender) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("step %d approval has invalid spender %q", t.step.UserTxIndex, approval.Spender))
	}
	amount, err := parseBaseUnits(approval.Amount)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("step %d approval amount", t.step.UserTxIndex), err)
	}
	data, err := stepERC20ABI.Pack("approve", common.HexToAddress(approval.Spender), amount)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack approve calldata", err)
	}
	req := &model.TransactionRequest{
		Kind:    model.TxKindApprove,
		To:      common.HexToAddress(approval.Token),
		Data:    data,
		Value:   big.NewInt(0),
		ChainID: t.step.ChainID,
	}
	if common.IsHexAddress(approval.Owner) {
		req.From = common.HexToAddress(approval.Owner)
	}
	return req, nil
}

func (t StepTransaction) GetSendTransaction() (*model.TransactionRequest, error) {
	if !common.IsHexAddress(t.step.TxTarget) {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("step %d has invalid target %q", t.step.UserTxIndex, t.step.TxTarget))
	}
	if t.step.ChainID <= 0 {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("step %d has invalid chain id %d", t.step.UserTxIndex, t.step.ChainID))
	}
	data, err := decodeCalldata(t.step.TxData)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("step %d calldata", t.step.UserTxIndex), err)
	}
	value, err := parseBaseUnits(t.step.Value)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, fmt.Sprintf("step %d value", t.step.UserTxIndex), err)
	}
	return &model.TransactionRequest{
		Kind:    model.TxKindSend,
		To:      common.HexToAddress(t.step.TxTarget),
		Data:    data,
		Value:   value,
		ChainID: t.step.ChainID,
	}, nil
}

// parseBaseUnits accepts a non-negative integer as a decimal or 0x-hex string.
// Empty means zero.
func parseBaseUnits(raw string) (*big.Int, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(clean, "0x") || strings.HasPrefix(clean, "0X") {
		digits := strings.TrimLeft(clean[2:], "0")
		if digits == "" {
			return big.NewInt(0), nil
		}
		v, err := hexutil.DecodeBig("0x" + digits)
		if err != nil {
			return nil, fmt.Errorf("invalid hex amount %q: %w", raw, err)
		}
		return v, nil
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", raw, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount %q must be non-negative", raw)
	}
	if !d.IsInteger() {
		return nil, fmt.Errorf("amount %q must be an integer in base units", raw)
	}
	return d.BigInt(), nil
}

func decodeCalldata(raw string) ([]byte, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" || clean == "0x" {
		return []byte{}, nil
	}
	if !strings.HasPrefix(clean, "0x") && !strings.HasPrefix(clean, "0X") {
		clean = "0x" + clean
	}
	buf, err := hexutil.Decode(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return buf, nil
}
