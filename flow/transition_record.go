package flow

import "encoding/json"

// TransitionRecord is the operation context of a single Transition call.
type TransitionRecord struct {
	*OperationContext

	From  string
	To    string
	Props any
}

// NewTransitionRecord builds the record for the from -> to transition.
func NewTransitionRecord(from, to string, props any) *TransitionRecord {
	return &TransitionRecord{
		OperationContext: NewOperationContext(TransitionID(from, to), nil),
		From:             from,
		To:               to,
		Props:            props,
	}
}

// ID returns the transition identifier.
func (r *TransitionRecord) ID() string {
	return r.Name()
}

func (r *TransitionRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name  string       `json:"name"`
		From  string       `json:"from"`
		To    string       `json:"to"`
		Props any          `json:"props,omitempty"`
		Error *ErrorRecord `json:"error,omitempty"`
	}{
		Name:  r.Name(),
		From:  r.From,
		To:    r.To,
		Props: r.Props,
		Error: ErrorRecordOf(r.Err()),
	})
}
