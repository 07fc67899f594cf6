package conversation

import "github.com/tmc/langchaingo/llms"

// Outcome distinguishes an answered request from one that had no index.
type Outcome int

const (
	// OutcomeEmpty means no index was active.
	OutcomeEmpty Outcome = iota
	// OutcomeAnswered means the request ran against an index.
	OutcomeAnswered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAnswered:
		return "answered"
	default:
		return "empty"
	}
}

// Answer is the result of Query.
type Answer struct {
	Outcome Outcome
	Text    string
}

// Transcript is the result of History. Turns are in stored form, oldest
// first.
type Transcript struct {
	Outcome Outcome
	Turns   []llms.ChatMessageModel
}
