package execution

import "time"

// Status is the per-execution state machine:
// idle -> step_pending -> (approving ->)? sending -> confirming -> next_step_pending | completed | aborted.
type Status string

type StepStatus string

const (
	StatusIdle            Status = "idle"
	StatusStepPending     Status = "step_pending"
	StatusApproving       Status = "approving"
	StatusSending         Status = "sending"
	StatusConfirming      Status = "confirming"
	StatusNextStepPending Status = "next_step_pending"
	StatusCompleted       Status = "completed"
	StatusAborted         Status = "aborted"
)

const (
	StepStatusPending           StepStatus = "pending"
	StepStatusApprovalConfirmed StepStatus = "approval_confirmed"
	StepStatusSubmitted         StepStatus = "submitted"
	StepStatusConfirmed         StepStatus = "confirmed"
	StepStatusFailed            StepStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

type StepRecord struct {
	Index        int        `json:"index"`
	ChainID      int64      `json:"chain_id"`
	TxTarget     string     `json:"tx_target"`
	Status       StepStatus `json:"status"`
	ApprovalHash string     `json:"approval_hash,omitempty"`
	SendHash     string     `json:"send_hash,omitempty"`
	SubAction    string     `json:"sub_action,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Record is the persisted view of one route execution, kept so a partially
// completed route can be resumed by hand.
type Record struct {
	ExecutionID string       `json:"execution_id"`
	RouteID     int64        `json:"route_id"`
	WalletID    string       `json:"wallet_id"`
	Status      Status       `json:"status"`
	TotalSteps  int          `json:"total_steps"`
	CreatedAt   string       `json:"created_at"`
	UpdatedAt   string       `json:"updated_at"`
	Steps       []StepRecord `json:"steps"`
	Error       string       `json:"error,omitempty"`
}

func NewRecord(executionID string, routeID int64, walletID string, totalSteps int) Record {
	now := time.Now().UTC().Format(time.RFC3339)
	return Record{
		ExecutionID: executionID,
		RouteID:     routeID,
		WalletID:    walletID,
		Status:      StatusIdle,
		TotalSteps:  totalSteps,
		CreatedAt:   now,
		UpdatedAt:   now,
		Steps:       []StepRecord{},
	}
}

func (r *Record) Touch() {
	r.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
}

// step returns the record for index, appending one if needed.
func (r *Record) step(index int) *StepRecord {
	for i := range r.Steps {
		if r.Steps[i].Index == index {
			return &r.Steps[i]
		}
	}
	r.Steps = append(r.Steps, StepRecord{Index: index, Status: StepStatusPending})
	return &r.Steps[len(r.Steps)-1]
}
