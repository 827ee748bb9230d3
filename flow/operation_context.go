package flow

import (
	"encoding/json"
	"sync"
)

// OperationContext describes one named operation: its params, its result and
// its error. Result and error are stored independently; which one to trust
// depends on the lifecycle state of the owner.
type OperationContext struct {
	*ExecutionContext

	opMu   sync.RWMutex
	params map[string]any
	result any
	err    error
}

// NewOperationContext creates an operation context named name.
func NewOperationContext(name string, params map[string]any) *OperationContext {
	return &OperationContext{
		ExecutionContext: NewExecutionContext(name),
		params:           copyMap(params),
	}
}

// Params returns a copy of the operation params.
func (o *OperationContext) Params() map[string]any {
	if o == nil {
		return nil
	}
	o.opMu.RLock()
	defer o.opMu.RUnlock()
	return copyMap(o.params)
}

// Result returns the stored result, if any.
func (o *OperationContext) Result() any {
	if o == nil {
		return nil
	}
	o.opMu.RLock()
	defer o.opMu.RUnlock()
	return o.result
}

// Err returns the stored error, if any.
func (o *OperationContext) Err() error {
	if o == nil {
		return nil
	}
	o.opMu.RLock()
	defer o.opMu.RUnlock()
	return o.err
}

// Succeed stores result.
func (o *OperationContext) Succeed(result any) *OperationContext {
	o.opMu.Lock()
	o.result = result
	o.opMu.Unlock()
	return o
}

// Fail stores err.
func (o *OperationContext) Fail(err error) *OperationContext {
	o.opMu.Lock()
	o.err = err
	o.opMu.Unlock()
	return o
}

type operationJSON struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
	Result any            `json:"result,omitempty"`
	Error  *ErrorRecord   `json:"error,omitempty"`
}

func (o *OperationContext) MarshalJSON() ([]byte, error) {
	o.opMu.RLock()
	defer o.opMu.RUnlock()
	return json.Marshal(operationJSON{
		Name:   o.Name(),
		Params: o.params,
		Result: o.result,
		Error:  ErrorRecordOf(o.err),
	})
}
