package flow

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeInitialization = "FSM_INITIALIZATION_FAILED"
	ErrCodeTransition     = "FSM_TRANSITION_FAILED"
	ErrCodeGeneric        = "ERROR"
)

const (
	TitleInitialization = "A-StateMachine Initialization Error"
	TitleTransition     = "A-StateMachine Transition Error"
	TitleGeneric        = "Error"
)

var (
	// ErrInitialization matches any engine initialization failure via errors.Is.
	ErrInitialization = &Error{Title: TitleInitialization, TextCode: ErrCodeInitialization, Category: apperrors.CategoryInternal}
	// ErrTransition matches any wrapped transition failure via errors.Is.
	ErrTransition = &Error{Title: TitleTransition, TextCode: ErrCodeTransition, Category: apperrors.CategoryHandler}
)

// Error is the lifecycle error shape shared by the engine and commands.
// It always carries a fixed title, a human description and the wrapped cause.
type Error struct {
	Title       string
	Description string
	Original    error
	TextCode    string
	Category    apperrors.Category
	Metadata    map[string]any
}

// ErrorRecord is the serialized form of Error.
type ErrorRecord struct {
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	OriginalError *ErrorRecord `json:"originalError,omitempty"`
}

// NewError builds an Error from a base sentinel, a description and a cause.
func NewError(base *Error, description string, cause error) *Error {
	if base == nil {
		base = &Error{Title: TitleGeneric, TextCode: ErrCodeGeneric, Category: apperrors.CategoryInternal}
	}
	return &Error{
		Title:       base.Title,
		Description: strings.TrimSpace(description),
		Original:    cause,
		TextCode:    base.TextCode,
		Category:    base.Category,
	}
}

// NewInitializationError wraps a failure raised while the engine was getting ready.
func NewInitializationError(cause error) *Error {
	return NewError(ErrInitialization, fmt.Sprintf("state machine initialization failed: %s", causeMessage(cause)), cause)
}

// NewTransitionError wraps a failure raised while executing transition id.
func NewTransitionError(id string, cause error) *Error {
	err := NewError(ErrTransition, fmt.Sprintf("transition %s failed: %s", id, causeMessage(cause)), cause)
	return err.WithMetadata(map[string]any{"transition_id": id})
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Description == "" {
		return e.Title
	}
	return e.Title + ": " + e.Description
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Original
}

// Is matches errors sharing the same text code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !stderrors.As(target, &t) || e == nil || t == nil {
		return false
	}
	if t.TextCode == "" {
		return e.Title == t.Title
	}
	return e.TextCode == t.TextCode
}

// WithMetadata merges metadata into the error and returns it.
func (e *Error) WithMetadata(meta map[string]any) *Error {
	if e == nil || len(meta) == 0 {
		return e
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]any, len(meta))
	}
	for k, v := range meta {
		e.Metadata[k] = v
	}
	return e
}

// Record returns the serialized form of the error chain.
func (e *Error) Record() *ErrorRecord {
	if e == nil {
		return nil
	}
	rec := &ErrorRecord{Title: e.Title, Description: e.Description}
	if e.Original != nil {
		rec.OriginalError = ErrorRecordOf(e.Original)
	}
	return rec
}

func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Record())
}

// AppError converts the error to the go-errors representation.
func (e *Error) AppError() *apperrors.Error {
	if e == nil {
		return nil
	}
	category := e.Category
	if category == "" {
		category = apperrors.CategoryInternal
	}
	out := apperrors.Wrap(e.Original, category, e.Description)
	if out == nil {
		out = apperrors.New(e.Description, category)
	}
	meta := map[string]any{"title": e.Title}
	for k, v := range e.Metadata {
		meta[k] = v
	}
	return out.WithTextCode(e.TextCode).WithMetadata(meta)
}

// ErrorRecordOf serializes any error through the lifecycle taxonomy.
func ErrorRecordOf(err error) *ErrorRecord {
	switch e := err.(type) {
	case nil:
		return nil
	case *Error:
		return e.Record()
	case *apperrors.Error:
		rec := &ErrorRecord{Title: appErrorTitle(e), Description: e.Message}
		if e.Source != nil {
			rec.OriginalError = ErrorRecordOf(e.Source)
		}
		return rec
	}
	rec := &ErrorRecord{Title: TitleGeneric, Description: err.Error()}
	if inner := stderrors.Unwrap(err); inner != nil {
		rec.OriginalError = ErrorRecordOf(inner)
	}
	return rec
}

// FromRecord rebuilds an Error chain from its serialized form.
func FromRecord(rec *ErrorRecord) *Error {
	if rec == nil {
		return nil
	}
	out := &Error{
		Title:       rec.Title,
		Description: rec.Description,
		TextCode:    textCodeForTitle(rec.Title),
		Category:    apperrors.CategoryInternal,
	}
	if rec.OriginalError != nil {
		out.Original = FromRecord(rec.OriginalError)
	}
	return out
}

// AsError returns err as *Error, wrapping it with base when it is not one already.
func AsError(err error, base *Error, description string) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if stderrors.As(err, &le) {
		return le
	}
	if description == "" {
		description = err.Error()
	}
	return NewError(base, description, err)
}

var (
	titleMu    sync.RWMutex
	titleCodes = map[string]string{}
)

// RegisterTitle associates a title with a text code so rehydrated errors keep
// matching their sentinels with errors.Is.
func RegisterTitle(title, code string) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(code) == "" {
		return
	}
	titleMu.Lock()
	titleCodes[title] = code
	titleMu.Unlock()
}

func textCodeForTitle(title string) string {
	titleMu.RLock()
	defer titleMu.RUnlock()
	if code, ok := titleCodes[title]; ok {
		return code
	}
	return ErrCodeGeneric
}

func appErrorTitle(err *apperrors.Error) string {
	if err == nil {
		return TitleGeneric
	}
	if title, ok := err.Metadata["title"].(string); ok && title != "" {
		return title
	}
	if err.TextCode != "" {
		return err.TextCode
	}
	return TitleGeneric
}

func causeMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func init() {
	RegisterTitle(TitleInitialization, ErrCodeInitialization)
	RegisterTitle(TitleTransition, ErrCodeTransition)
}
