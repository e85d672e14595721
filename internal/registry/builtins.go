package registry

import (
	"maps"
	"slices"
)

// Built-in selectors available on every store.
const (
	SelectHasStartedResolution  = "hasStartedResolution"
	SelectHasFinishedResolution = "hasFinishedResolution"
	SelectIsResolving           = "isResolving"
	SelectErrorForSelector      = "getErrorForSelector"
	SelectErrorForAction        = "getErrorForAction"
	SelectErrors                = "getErrors"
	SelectHasErrors             = "hasErrors"
)

// Built-in actions available on every store.
const (
	ActionReceiveError                         = "receiveError"
	ActionClearError                           = "clearError"
	ActionClearErrors                          = "clearErrors"
	ActionInvalidateResolution                 = "invalidateResolution"
	ActionInvalidateResolutionForStoreSelector = "invalidateResolutionForStoreSelector"
	ActionInvalidateResolutionForStore         = "invalidateResolutionForStore"
)

var builtinSelectors = map[string]func(st *store, args Args) (any, error){
	SelectHasStartedResolution: func(st *store, args Args) (any, error) {
		status, err := resolutionStatus(st, SelectHasStartedResolution, args)
		return status != 0, err
	},
	SelectHasFinishedResolution: func(st *store, args Args) (any, error) {
		status, err := resolutionStatus(st, SelectHasFinishedResolution, args)
		return status == StatusDone, err
	},
	SelectIsResolving: func(st *store, args Args) (any, error) {
		status, err := resolutionStatus(st, SelectIsResolving, args)
		return status == StatusPending || status == StatusRunning, err
	},
	SelectErrorForSelector: errorFor(SelectErrorForSelector),
	SelectErrorForAction:   errorFor(SelectErrorForAction),
	SelectErrors: func(st *store, _ Args) (any, error) {
		_, meta := st.snapshot()
		return meta.Errors(), nil
	},
	SelectHasErrors: func(st *store, _ Args) (any, error) {
		_, meta := st.snapshot()
		return meta.HasErrors(), nil
	},
}

var builtinActions = map[string]ActionCreator{
	ActionReceiveError: ActionFunc(ActionReceiveError, func(args Args) (Action, error) {
		name, err := nameArg(ActionReceiveError, args, 1)
		if err != nil {
			return nil, err
		}
		var rec ErrorRecord
		switch v := args.At(0).(type) {
		case ErrorRecord:
			rec = v
			rec.Name, rec.Args = name, cloneArgs(args[2:])
		case *ErrorRecord:
			rec = *v
			rec.Name, rec.Args = name, cloneArgs(args[2:])
		case error:
			rec = NewErrorRecord(name, args[2:], v)
		default:
			return nil, Invalidf(ActionReceiveError, "expected an error, got %T", v)
		}
		return ReceiveError{Record: rec}, nil
	}),
	ActionClearError: ActionFunc(ActionClearError, func(args Args) (Action, error) {
		name, err := nameArg(ActionClearError, args, 0)
		if err != nil {
			return nil, err
		}
		return ClearError{Name: name, Args: cloneArgs(args[1:])}, nil
	}),
	ActionClearErrors: ActionFunc(ActionClearErrors, func(args Args) (Action, error) {
		name, err := args.String(0)
		if err != nil {
			return nil, &ValidationError{Name: ActionClearErrors, Message: "invalid name", Err: err}
		}
		return ClearErrors{Name: name}, nil
	}),
	ActionInvalidateResolution: ActionFunc(ActionInvalidateResolution, func(args Args) (Action, error) {
		selector, err := nameArg(ActionInvalidateResolution, args, 0)
		if err != nil {
			return nil, err
		}
		return InvalidateResolution{Selector: selector, Args: cloneArgs(args[1:])}, nil
	}),
	ActionInvalidateResolutionForStoreSelector: ActionFunc(ActionInvalidateResolutionForStoreSelector, func(args Args) (Action, error) {
		selector, err := nameArg(ActionInvalidateResolutionForStoreSelector, args, 0)
		if err != nil {
			return nil, err
		}
		return InvalidateSelector{Selector: selector}, nil
	}),
	ActionInvalidateResolutionForStore: ActionFunc(ActionInvalidateResolutionForStore, func(Args) (Action, error) {
		return InvalidateStore{}, nil
	}),
}

// BuiltinSelectorNames returns the selector names reserved on every store.
func BuiltinSelectorNames() []string {
	return slices.Sorted(maps.Keys(builtinSelectors))
}

// BuiltinActionNames returns the action names reserved on every store.
func BuiltinActionNames() []string {
	return slices.Sorted(maps.Keys(builtinActions))
}

// resolutionStatus reads the record addressed by (args[0], args[1:]).
// Zero means no record.
func resolutionStatus(st *store, name string, args Args) (ResolutionStatus, error) {
	selector, err := nameArg(name, args, 0)
	if err != nil {
		return 0, err
	}
	_, status := st.resolution(selector, args[1:])
	return status, nil
}

// errorFor reads the error record addressed by (args[0], args[1:]).
// A missing record is a nil value, not an error.
func errorFor(name string) func(st *store, args Args) (any, error) {
	return func(st *store, args Args) (any, error) {
		target, err := nameArg(name, args, 0)
		if err != nil {
			return nil, err
		}
		_, meta := st.snapshot()
		rec, ok := meta.Error(target, args[1:])
		if !ok {
			return nil, nil
		}
		return &rec, nil
	}
}

// nameArg returns the non-empty string argument at i.
func nameArg(name string, args Args, i int) (string, error) {
	if len(args) <= i {
		return "", Invalidf(name, "missing name argument")
	}
	s, ok := args[i].(string)
	if !ok || s == "" {
		return "", Invalidf(name, "argument %d must be a non-empty name, got %T", i, args[i])
	}
	return s, nil
}
