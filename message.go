package command

import (
	"encoding/json"
	"reflect"

	"github.com/goliatone/go-errors"
)

// Message is a typed view over command params that can validate itself.
type Message interface {
	Type() string
	Validate() error
}

// ErrValidation is a sentinel error used to mark validation failures.
// Wrappers can compare errors with errors.Is(err, ErrValidation) to
// propagate validation intent through additional layers.
var ErrValidation = errors.New("validation error", errors.CategoryValidation).
	WithTextCode("VALIDATION_FAILED")

func IsNilMessage(msg any) bool {
	if msg == nil {
		return true
	}

	v := reflect.ValueOf(msg)
	if v.Kind() != reflect.Ptr {
		return false
	}

	return v.IsNil()
}

// DecodeParams decodes params into T through their JSON form.
func DecodeParams[T any](params map[string]any) (T, error) {
	var out T
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return out, errors.Wrap(err, errors.CategoryBadInput, "params are not JSON encodable").
			WithTextCode("PARAMS_DECODE_FAILED")
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, errors.Wrap(err, errors.CategoryBadInput, "params do not match message").
			WithTextCode("PARAMS_DECODE_FAILED")
	}
	return out, nil
}

// ValidateMessage returns a ParamsValidator decoding params into T and
// running its Validate method. Failures wrap ErrValidation.
func ValidateMessage[T Message]() ParamsValidator {
	return func(params map[string]any) error {
		msg, err := DecodeParams[T](params)
		if err != nil {
			return errors.Join(ErrValidation, err)
		}
		if IsNilMessage(msg) {
			return errors.Join(ErrValidation, errors.New("nil message pointer", errors.CategoryValidation).
				WithTextCode("INVALID_MESSAGE"))
		}
		if err := msg.Validate(); err != nil {
			return errors.Join(ErrValidation, errors.Wrap(err, errors.CategoryValidation, "message validation failed").
				WithTextCode("VALIDATION_FAILED").
				WithMetadata(map[string]any{"message": msg.Type()}))
		}
		return nil
	}
}
