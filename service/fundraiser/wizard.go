// Package fundraiser implements the three-step fund creation wizard: a
// linear step machine over a session-owned draft that ends in exactly
// one createFund transaction.
package fundraiser

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Steps of the wizard.
const (
	StepPurpose = 0 // reason, period
	StepStory   = 1 // title, description
	StepProof   = 2 // media proof, amount
	LastStep    = StepProof
)

// ErrNotReady is returned when the draft does not satisfy the submit predicate.
var ErrNotReady = errors.New("fundraiser draft is not ready to submit")

var captions = [...]string{
	StepPurpose: "Start Fundraising Campaign in 3 Steps",
	StepStory:   "Almost done...",
	StepProof:   "Last step",
}

var stepFields = [...][]string{
	StepPurpose: {FieldReason, FieldPeriod},
	StepStory:   {FieldTitle, FieldDescription},
	StepProof:   {FieldMediaProof, FieldAmount},
}

// CreateFund is the derived createFund(targetAmount, periodInDays) call.
type CreateFund struct {
	TargetAmount *big.Int `json:"target_amount"`
	PeriodInDays *big.Int `json:"period_in_days"`
}

// Wizard is one mounted instance of the creation form. It is owned by a
// single session and is not safe for concurrent use.
type Wizard struct {
	step  int
	Draft Draft
}

// New mounts a wizard on step 0 with an empty draft.
func New() *Wizard {
	return &Wizard{step: StepPurpose, Draft: NewDraft()}
}

// Step returns the active step index.
func (w *Wizard) Step() int { return w.step }

// Caption returns the heading shown above the active step.
func (w *Wizard) Caption() string { return Caption(w.step) }

// Caption returns the heading for step.
func Caption(step int) string {
	if step < 0 || step >= len(captions) {
		return ""
	}
	return captions[step]
}

// StepFields lists the fields collected on step.
func StepFields(step int) []string {
	if step < 0 || step >= len(stepFields) {
		return nil
	}
	return stepFields[step]
}

// Next advances one step, stopping at the last step. Nothing is validated.
func (w *Wizard) Next() int {
	if w.step < LastStep {
		w.step++
	}
	return w.step
}

// Back returns one step, stopping at step 0.
func (w *Wizard) Back() int {
	w.step = max(0, w.step-1)
	return w.step
}

// IsLast reports whether the submit action is available.
func (w *Wizard) IsLast() bool { return w.step == LastStep }

// Update copies the active step's fields from values into the draft.
// Values for fields of other steps are ignored.
func (w *Wizard) Update(values map[string]string) {
	for _, f := range StepFields(w.step) {
		v, ok := values[f]
		if !ok {
			continue
		}
		switch f {
		case FieldReason:
			w.Draft.Reason = v
		case FieldPeriod:
			w.Draft.PeriodDays = v
		case FieldTitle:
			w.Draft.Title = v
		case FieldDescription:
			w.Draft.Description = v
		case FieldAmount:
			w.Draft.Amount = v
		}
	}
}

// AttachMedia replaces the media proof selection. Only accepted on the
// proof step.
func (w *Wizard) AttachMedia(files []Media) {
	if w.step != StepProof {
		return
	}
	w.Draft.MediaProof = files
}

// MediaError returns the inline media proof error for the proof step, if
// a selection has been made.
func (w *Wizard) MediaError() string {
	if w.Draft.MediaProof == nil {
		return ""
	}
	return ValidateMedia(w.Draft.MediaProof)
}

// Ready applies the submit predicate for identity and returns the derived
// call, or an error wrapping ErrNotReady naming the first failing rule.
func (w *Wizard) Ready(identity common.Address) (*CreateFund, error) {
	return Prepare(w.Draft, identity)
}

// Transaction returns the derived createFund call, or nil when the submit
// predicate fails.
func (w *Wizard) Transaction(identity common.Address) *CreateFund {
	call, err := w.Ready(identity)
	if err != nil {
		return nil
	}
	return call
}

// Prepare applies the submit predicate to a draft. It is looser than
// Validate: amount and period must be whole numbers above zero, the
// description must be longer than 10 characters, title and reason must be
// non-empty and the wallet must be connected. Media proof is not checked.
func Prepare(d Draft, identity common.Address) (*CreateFund, error) {
	amount, err := ParseWhole(d.Amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotReady, FieldAmount, err)
	}
	if textLength(d.Description) <= MinSubmitDescriptionLen {
		return nil, fmt.Errorf("%w: %s too short", ErrNotReady, FieldDescription)
	}
	period, err := ParseWhole(d.PeriodDays)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotReady, FieldPeriod, err)
	}
	if d.Title == "" {
		return nil, fmt.Errorf("%w: %s empty", ErrNotReady, FieldTitle)
	}
	if d.Reason == "" {
		return nil, fmt.Errorf("%w: %s empty", ErrNotReady, FieldReason)
	}
	if identity == (common.Address{}) {
		return nil, fmt.Errorf("%w: wallet not connected", ErrNotReady)
	}
	return &CreateFund{TargetAmount: amount, PeriodInDays: period}, nil
}
