package types

import "fmt"

// Phase is where a transaction stands in the validate → pay → execute cycle.
// The account itself keeps no phase; the bootloader attaches one to every
// in-flight transaction.
type Phase uint8

const (
	PhaseReceived Phase = iota
	PhaseValidating
	PhaseValidationFailed
	PhaseValidationSucceeded
	PhasePaying
	PhasePaymentFailed
	PhasePaid
	PhaseExecuting
	PhaseExecuted
	PhaseExecutionFailed
)

var phaseNames = map[Phase]string{
	PhaseReceived:            "received",
	PhaseValidating:          "validating",
	PhaseValidationFailed:    "validation_failed",
	PhaseValidationSucceeded: "validation_succeeded",
	PhasePaying:              "paying",
	PhasePaymentFailed:       "payment_failed",
	PhasePaid:                "paid",
	PhaseExecuting:           "executing",
	PhaseExecuted:            "executed",
	PhaseExecutionFailed:     "execution_failed",
}

// allowed transitions; terminal phases have none
var phaseTransitions = map[Phase][]Phase{
	PhaseReceived:            {PhaseValidating, PhaseValidationFailed},
	PhaseValidating:          {PhaseValidationFailed, PhaseValidationSucceeded},
	PhaseValidationSucceeded: {PhasePaying, PhasePaymentFailed},
	PhasePaying:              {PhasePaymentFailed, PhasePaid},
	PhasePaid:                {PhaseExecuting},
	PhaseExecuting:           {PhaseExecuted, PhaseExecutionFailed},
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return "unknown"
}

// IsTerminal reports whether no further transition is possible
func (p Phase) IsTerminal() bool {
	return len(phaseTransitions[p]) == 0
}

// CanTransition reports whether next may follow p
func (p Phase) CanTransition(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for phase, name := range phaseNames {
		if name == string(text) {
			*p = phase
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}
