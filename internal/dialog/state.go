// Package dialog implements the conversation state machine and utterance
// classification that drive template selection during a call.
package dialog

import (
	"errors"
	"fmt"
)

// Stage is the conversation state for one call.
type Stage string

const (
	StageGreeting    Stage = "greeting"
	StageScheduling  Stage = "scheduling"
	StageDncQuestion Stage = "dnc_question"
	StageCompleted   Stage = "completed"
)

// Category is the classified customer utterance fed into the state machine.
type Category string

const (
	CategoryAffirmative Category = "affirmative"
	CategoryNegative    Category = "negative"
	CategoryAmbiguous   Category = "ambiguous"
	// CategoryNone marks the absence of further input (silence, hangup
	// timeout); every stage maps it to the goodbye row.
	CategoryNone Category = "none"
)

// ErrInvalidState reports an unrecognized stage value. This is a
// programming error, not a runtime condition to recover from.
var ErrInvalidState = errors.New("invalid conversation stage")

// Decision is the outcome of one state machine step.
type Decision struct {
	Next     Stage
	Template string
	Terminal bool
}

// transitions is the single source of truth for the conversation flow.
// Pairs absent from this table resolve to the stage's ambiguous row, and
// CategoryNone resolves to goodbye from any stage, so Decide is total over
// every (stage, category) pair.
var transitions = map[Stage]map[Category]Decision{
	StageGreeting: {
		CategoryAffirmative: {Next: StageScheduling, Template: "agent_introduction"},
		CategoryNegative:    {Next: StageDncQuestion, Template: "not_interested"},
		CategoryAmbiguous:   {Next: StageGreeting, Template: "clarification"},
	},
	StageScheduling: {
		CategoryAffirmative: {Next: StageCompleted, Template: "schedule_confirmation", Terminal: true},
		CategoryNegative:    {Next: StageCompleted, Template: "no_schedule_followup", Terminal: true},
		CategoryAmbiguous:   {Next: StageScheduling, Template: "clarification"},
	},
	StageDncQuestion: {
		CategoryAffirmative: {Next: StageCompleted, Template: "keep_communications", Terminal: true},
		CategoryNegative:    {Next: StageCompleted, Template: "dnc_confirmation", Terminal: true},
		CategoryAmbiguous:   {Next: StageDncQuestion, Template: "clarification"},
	},
	// Completed is terminal: any further input just replays goodbye.
	StageCompleted: {
		CategoryAffirmative: {Next: StageCompleted, Template: "goodbye", Terminal: true},
		CategoryNegative:    {Next: StageCompleted, Template: "goodbye", Terminal: true},
		CategoryAmbiguous:   {Next: StageCompleted, Template: "goodbye", Terminal: true},
	},
}

// goodbyeDecision is the universal no-further-input row.
var goodbyeDecision = Decision{Next: StageCompleted, Template: "goodbye", Terminal: true}

// Decide maps (stage, category) to the next stage, the template to render,
// and whether the conversation ends. It is a pure function and total over
// all recognized stages; an unrecognized stage yields ErrInvalidState.
func Decide(stage Stage, category Category) (Decision, error) {
	rows, ok := transitions[stage]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrInvalidState, stage)
	}

	if category == CategoryNone {
		return goodbyeDecision, nil
	}

	if d, ok := rows[category]; ok {
		return d, nil
	}
	// Unknown categories collapse to the stage's ambiguous row.
	return rows[CategoryAmbiguous], nil
}

// Stages lists every recognized stage, in conversation order.
func Stages() []Stage {
	return []Stage{StageGreeting, StageScheduling, StageDncQuestion, StageCompleted}
}

// Categories lists every recognized utterance category.
func Categories() []Category {
	return []Category{CategoryAffirmative, CategoryNegative, CategoryAmbiguous, CategoryNone}
}
