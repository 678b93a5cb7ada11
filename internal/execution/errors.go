package execution

import (
	"errors"
	"fmt"

	clierr "github.com/ggonzalez94/route-runner/internal/errors"
)

// Sub-actions named in StepError.
const (
	SubActionNetwork       = "read_network"
	SubActionResolveChain  = "resolve_chain"
	SubActionSwitchChain   = "switch_chain"
	SubActionAddChain      = "add_chain"
	SubActionBuildApproval = "build_approval"
	SubActionApprove       = "approve"
	SubActionWaitApproval  = "wait_approval"
	SubActionBuildSend     = "build_send"
	SubActionSend          = "send"
	SubActionWaitSend      = "wait_send"
	SubActionAdvance       = "advance"
)

// StepError carries enough context to resume a route by hand after a fatal
// failure. It unwraps to the typed cause.
type StepError struct {
	RouteID   int64
	StepIndex int
	SubAction string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("route %d step %d %s: %v", e.RouteID, e.StepIndex, e.SubAction, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// AsStepError extracts the step context from err, if any.
func AsStepError(err error) (*StepError, bool) {
	var target *StepError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

func newStepError(routeID int64, index int, subAction string, err error) *StepError {
	if _, ok := clierr.As(err); !ok {
		err = clierr.Wrap(clierr.CodeInternal, subAction, err)
	}
	return &StepError{RouteID: routeID, StepIndex: index, SubAction: subAction, Err: err}
}
