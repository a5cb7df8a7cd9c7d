package session

import (
	"errors"
	"fmt"
)

// Step is a position in the listing workflow.
type Step string

const (
	StepStart      Step = "start"
	StepRecognized Step = "recognized"
	StepDescribed  Step = "described"
	StepPublished  Step = "published"
)

// Action is a workflow operation that moves a holder between steps.
type Action string

const (
	ActionRecognize Action = "recognize"
	ActionAspects   Action = "aspects"
	ActionPublish   Action = "publish"
)

// ErrIllegalTransition is returned when an action is not allowed from the
// holder's current step.
var ErrIllegalTransition = errors.New("illegal workflow transition")

// transitions lists, per action, the steps it may be taken from and the
// step it leads to. recognize is always allowed and restarts the flow.
var transitions = map[Action]struct {
	from map[Step]bool
	to   Step
}{
	ActionRecognize: {
		from: map[Step]bool{StepStart: true, StepRecognized: true, StepDescribed: true, StepPublished: true},
		to:   StepRecognized,
	},
	ActionAspects: {
		from: map[Step]bool{StepRecognized: true, StepDescribed: true},
		to:   StepDescribed,
	},
	ActionPublish: {
		from: map[Step]bool{StepDescribed: true},
		to:   StepPublished,
	},
}

// Next returns the step reached by taking action from step.
func Next(from Step, action Action) (Step, error) {
	t, ok := transitions[action]
	if !ok {
		return from, fmt.Errorf("unknown action %q", action)
	}
	if !t.from[from] {
		return from, fmt.Errorf("%w: cannot %s from step %q", ErrIllegalTransition, action, from)
	}
	return t.to, nil
}
