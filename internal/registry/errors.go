package registry

import (
	"errors"
	"fmt"
)

// ErrorCode classifies registry errors.
type ErrorCode string

const (
	// CodeValidation: bad action, selector or control arguments.
	CodeValidation ErrorCode = "VALIDATION"

	// CodeDuplicateStore: a store name was registered twice.
	CodeDuplicateStore ErrorCode = "DUPLICATE_STORE"

	// CodeCollision: two definitions claim the same name.
	CodeCollision ErrorCode = "COLLISION"

	// CodeUnknownStore: no store is registered under the name.
	CodeUnknownStore ErrorCode = "UNKNOWN_STORE"

	// CodeUnknownSelector: the store has no selector with the name.
	CodeUnknownSelector ErrorCode = "UNKNOWN_SELECTOR"

	// CodeUnknownAction: the store has no action with the name.
	CodeUnknownAction ErrorCode = "UNKNOWN_ACTION"

	// CodeUnknownControl: the store has no control with the name.
	CodeUnknownControl ErrorCode = "UNKNOWN_CONTROL"
)

// ValidationError reports invalid arguments. It fails the call or dispatch
// that caused it and is never stored as an error record.
type ValidationError struct {
	Store   string
	Name    string
	Message string
	Err     error
}

// Invalidf builds a ValidationError for the action, selector or control name.
func Invalidf(name, format string, args ...any) *ValidationError {
	return &ValidationError{Name: name, Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	msg := "validation: "
	if e.Store != "" {
		msg += e.Store + "/"
	}
	msg += e.Name + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Code returns CodeValidation.
func (e *ValidationError) Code() ErrorCode { return CodeValidation }

// DuplicateStoreError reports a second registration under one name.
type DuplicateStoreError struct {
	Store string
}

func (e *DuplicateStoreError) Error() string {
	return fmt.Sprintf("store %q is already registered", e.Store)
}

// Code returns CodeDuplicateStore.
func (e *DuplicateStoreError) Code() ErrorCode { return CodeDuplicateStore }

// CollisionError reports a name defined twice while building or combining
// store definitions.
type CollisionError struct {
	// Kind is the namespace, e.g. "action", "selector", "initial state".
	Kind string
	Name string

	// Store is set when the collision was detected at registration.
	Store string
}

func (e *CollisionError) Error() string {
	if e.Store != "" {
		return fmt.Sprintf("store %q: %s %q is defined more than once", e.Store, e.Kind, e.Name)
	}
	return fmt.Sprintf("%s %q is defined more than once", e.Kind, e.Name)
}

// Code returns CodeCollision.
func (e *CollisionError) Code() ErrorCode { return CodeCollision }

// UnknownStoreError reports a lookup of an unregistered store.
type UnknownStoreError struct {
	Store string
}

func (e *UnknownStoreError) Error() string {
	return fmt.Sprintf("unknown store %q", e.Store)
}

// Code returns CodeUnknownStore.
func (e *UnknownStoreError) Code() ErrorCode { return CodeUnknownStore }

// UnknownSelectorError reports a read of an undefined selector.
type UnknownSelectorError struct {
	Store    string
	Selector string
}

func (e *UnknownSelectorError) Error() string {
	return fmt.Sprintf("store %q: unknown selector %q", e.Store, e.Selector)
}

// Code returns CodeUnknownSelector.
func (e *UnknownSelectorError) Code() ErrorCode { return CodeUnknownSelector }

// UnknownActionError reports a dispatch of an undefined action.
type UnknownActionError struct {
	Store  string
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("store %q: unknown action %q", e.Store, e.Action)
}

// Code returns CodeUnknownAction.
func (e *UnknownActionError) Code() ErrorCode { return CodeUnknownAction }

// UnknownControlError reports a Call of an undefined control.
type UnknownControlError struct {
	Store   string
	Control string
}

func (e *UnknownControlError) Error() string {
	return fmt.Sprintf("store %q: unknown control %q", e.Store, e.Control)
}

// Code returns CodeUnknownControl.
func (e *UnknownControlError) Code() ErrorCode { return CodeUnknownControl }

type coded interface {
	error
	Code() ErrorCode
}

// CodeOf returns the code of the first registry error in err's chain, or ""
// when there is none.
func CodeOf(err error) ErrorCode {
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsUnknown reports whether err is or wraps an unknown store, selector,
// action or control error.
func IsUnknown(err error) bool {
	switch CodeOf(err) {
	case CodeUnknownStore, CodeUnknownSelector, CodeUnknownAction, CodeUnknownControl:
		return true
	}
	return false
}

// IsCollision reports whether err is or wraps a CollisionError.
func IsCollision(err error) bool {
	var ce *CollisionError
	return errors.As(err, &ce)
}
