package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"sort"

	"github.com/roach88/storekit/internal/canon"
)

// CodeUnknownError is the error record code for failures that carry no code.
const CodeUnknownError = "unknown_error"

// DetailedError is implemented by failures that carry a code and structured
// data, such as network errors. Error records copy these fields.
type DetailedError interface {
	error
	ErrorCode() string
	ErrorMessage() string
	ErrorData() map[string]any
}

// ErrorRecord is a stored failure keyed by (Name, Args). It persists until a
// successful retry on the same key or an explicit clear.
type ErrorRecord struct {
	Name    string         `json:"name"`
	Args    []any          `json:"args,omitempty"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// NewErrorRecord converts err into a record for (name, args).
func NewErrorRecord(name string, args []any, err error) ErrorRecord {
	rec := ErrorRecord{
		Name: name,
		Args: cloneArgs(canon.TrimArgs(args)),
		Code: CodeUnknownError,
	}
	var existing *ErrorRecord
	var detailed DetailedError
	switch {
	case errors.As(err, &existing):
		rec.Code = existing.Code
		rec.Message = existing.Message
		rec.Data = maps.Clone(existing.Data)
	case errors.As(err, &detailed):
		rec.Code = detailed.ErrorCode()
		rec.Message = detailed.ErrorMessage()
		rec.Data = maps.Clone(detailed.ErrorData())
	case err != nil:
		rec.Message = err.Error()
	}
	return rec
}

func (e *ErrorRecord) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Name, e.Message, e.Code)
}

// Status returns data.status as an int, or 0 when absent.
func (e *ErrorRecord) Status() int {
	switch v := e.Data["status"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// Meta is the framework-owned part of a store: in-flight fetch flags and
// error records. A Meta value is an immutable snapshot.
type Meta struct {
	fetching map[string]bool
	errors   map[string]ErrorRecord
}

// IsFetching reports whether the fetch name is in flight for args.
// Unseen keys report false.
func (m Meta) IsFetching(name string, args []any) bool {
	key, err := canon.Key(name, args)
	if err != nil {
		return false
	}
	return m.fetching[key]
}

// Error returns the error record for (name, args).
func (m Meta) Error(name string, args []any) (ErrorRecord, bool) {
	key, err := canon.Key(name, args)
	if err != nil {
		return ErrorRecord{}, false
	}
	rec, ok := m.errors[key]
	return rec, ok
}

// Errors returns every error record ordered by key.
func (m Meta) Errors() []ErrorRecord {
	keys := make([]string, 0, len(m.errors))
	for k := range m.errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]ErrorRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, m.errors[k])
	}
	return out
}

// HasErrors reports whether any error record is stored.
func (m Meta) HasErrors() bool {
	return len(m.errors) > 0
}

// metaState is the mutable per-store bookkeeping, guarded by the store mutex.
type metaState struct {
	meta        Meta
	resolutions map[string]*resolution
}

// metaAction is applied to metaState instead of the store's reducer.
type metaAction interface {
	Action
	applyMeta(ms *metaState) (changed bool, err error)
}

// FetchStarted marks (Name, Args) in flight.
type FetchStarted struct {
	Name string
	Args []any
}

func (FetchStarted) ActionType() string { return "startFetch" }

func (a FetchStarted) applyMeta(ms *metaState) (bool, error) {
	return ms.setFetching(a.Name, a.Args, true)
}

// FetchFinished clears the in-flight flag of (Name, Args).
type FetchFinished struct {
	Name string
	Args []any
}

func (FetchFinished) ActionType() string { return "finishFetch" }

func (a FetchFinished) applyMeta(ms *metaState) (bool, error) {
	return ms.setFetching(a.Name, a.Args, false)
}

// ReceiveError stores Record under (Record.Name, Record.Args).
type ReceiveError struct {
	Record ErrorRecord
}

func (ReceiveError) ActionType() string { return "receiveError" }

func (a ReceiveError) applyMeta(ms *metaState) (bool, error) {
	key, err := canon.Key(a.Record.Name, a.Record.Args)
	if err != nil {
		return false, &ValidationError{Name: "receiveError", Message: "error arguments are not serializable", Err: err}
	}
	errs := maps.Clone(ms.meta.errors)
	if errs == nil {
		errs = make(map[string]ErrorRecord)
	}
	errs[key] = a.Record
	ms.meta.errors = errs
	return true, nil
}

// ClearError removes the error record for (Name, Args).
type ClearError struct {
	Name string
	Args []any
}

func (ClearError) ActionType() string { return "clearError" }

func (a ClearError) applyMeta(ms *metaState) (bool, error) {
	key, err := canon.Key(a.Name, a.Args)
	if err != nil {
		return false, &ValidationError{Name: "clearError", Message: "error arguments are not serializable", Err: err}
	}
	if _, ok := ms.meta.errors[key]; !ok {
		return false, nil
	}
	errs := maps.Clone(ms.meta.errors)
	delete(errs, key)
	ms.meta.errors = errs
	return true, nil
}

// ClearErrors removes every error record of Name, or all records when Name
// is empty.
type ClearErrors struct {
	Name string
}

func (ClearErrors) ActionType() string { return "clearErrors" }

func (a ClearErrors) applyMeta(ms *metaState) (bool, error) {
	errs := maps.Clone(ms.meta.errors)
	maps.DeleteFunc(errs, func(_ string, rec ErrorRecord) bool {
		return a.Name == "" || rec.Name == a.Name
	})
	if len(errs) == len(ms.meta.errors) {
		return false, nil
	}
	ms.meta.errors = errs
	return true, nil
}

// InvalidateResolution forgets the resolution of Selector for Args so the
// next read runs the resolver again.
type InvalidateResolution struct {
	Selector string
	Args     []any
}

func (InvalidateResolution) ActionType() string { return "invalidateResolution" }

func (a InvalidateResolution) applyMeta(ms *metaState) (bool, error) {
	key, err := canon.Key(a.Selector, a.Args)
	if err != nil {
		return false, &ValidationError{Name: "invalidateResolution", Message: "arguments are not serializable", Err: err}
	}
	if _, ok := ms.resolutions[key]; !ok {
		return false, nil
	}
	delete(ms.resolutions, key)
	return true, nil
}

// InvalidateSelector forgets every resolution of Selector.
type InvalidateSelector struct {
	Selector string
}

func (InvalidateSelector) ActionType() string { return "invalidateResolutionForStoreSelector" }

func (a InvalidateSelector) applyMeta(ms *metaState) (bool, error) {
	n := len(ms.resolutions)
	maps.DeleteFunc(ms.resolutions, func(_ string, res *resolution) bool {
		return res.selector == a.Selector
	})
	return len(ms.resolutions) != n, nil
}

// InvalidateStore forgets every resolution of the store.
type InvalidateStore struct{}

func (InvalidateStore) ActionType() string { return "invalidateResolutionForStore" }

func (InvalidateStore) applyMeta(ms *metaState) (bool, error) {
	if len(ms.resolutions) == 0 {
		return false, nil
	}
	clear(ms.resolutions)
	return true, nil
}

func (ms *metaState) setFetching(name string, args []any, on bool) (bool, error) {
	key, err := canon.Key(name, args)
	if err != nil {
		return false, &ValidationError{Name: name, Message: "arguments are not serializable", Err: err}
	}
	if ms.meta.fetching[key] == on {
		return false, nil
	}
	fetching := maps.Clone(ms.meta.fetching)
	if fetching == nil {
		fetching = make(map[string]bool)
	}
	if on {
		fetching[key] = true
	} else {
		delete(fetching, key)
	}
	ms.meta.fetching = fetching
	return true, nil
}
