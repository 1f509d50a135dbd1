package payment

import "fmt"

// Step is the local status of a purchase flow.
type Step string

const (
	StepChoosingOption  Step = "CHOOSING_OPTION"
	StepConfirming      Step = "CONFIRMING"
	StepSubmitting      Step = "SUBMITTING"
	StepAwaitingGateway Step = "AWAITING_GATEWAY"
	StepSucceeded       Step = "SUCCEEDED"
	StepFailed          Step = "FAILED"
)

// Terminal reports whether the step ends a purchase attempt.
func (s Step) Terminal() bool {
	return s == StepSucceeded || s == StepFailed
}

// transitions lists every legal move. Moving back to CHOOSING_OPTION discards
// the current transaction; nothing else ever moves a flow backwards except a
// user-correctable rejection returning SUBMITTING to CONFIRMING.
var transitions = map[Step][]Step{
	StepChoosingOption:  {StepConfirming},
	StepConfirming:      {StepSubmitting, StepChoosingOption},
	StepSubmitting:      {StepAwaitingGateway, StepSucceeded, StepFailed, StepConfirming, StepChoosingOption},
	StepAwaitingGateway: {StepAwaitingGateway, StepSucceeded, StepFailed, StepChoosingOption},
	StepSucceeded:       {StepChoosingOption},
	StepFailed:          {StepChoosingOption},
}

// transition validates from -> to.
func transition(from, to Step) error {
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
}
