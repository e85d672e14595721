// Package compose merges independently authored store fragments into one
// registry.Definition.
//
// Initial states shallow-merge, reducers run in declaration order, and
// every named member merges by name. Any name defined twice is a
// CollisionError at composition time; nothing is silently shadowed.
package compose

import (
	"fmt"
	"reflect"

	"github.com/roach88/storekit/internal/registry"
)

// Builder accumulates fragments. The zero value is not usable; call
// NewBuilder.
type Builder[S any] struct {
	initial  reflect.Value
	initSet  map[string]bool
	reducers []registry.Reducer[S]
	equal    func(a, b S) bool

	selectorNames map[string]bool
	actionNames   map[string]bool
	controlNames  map[string]bool

	def registry.Definition[S]
}

// NewBuilder returns an empty builder.
func NewBuilder[S any]() *Builder[S] {
	b := &Builder[S]{
		initial:       reflect.New(reflect.TypeFor[S]()).Elem(),
		initSet:       make(map[string]bool),
		selectorNames: make(map[string]bool),
		actionNames:   make(map[string]bool),
		controlNames:  make(map[string]bool),
	}
	for _, name := range registry.BuiltinSelectorNames() {
		b.selectorNames[name] = true
	}
	for _, name := range registry.BuiltinActionNames() {
		b.actionNames[name] = true
	}
	b.def = registry.Definition[S]{
		Actions:           make(map[string]registry.ActionCreator),
		Selectors:         make(map[string]registry.Selector[S]),
		MetaSelectors:     make(map[string]registry.MetaSelector),
		RegistrySelectors: make(map[string]registry.RegistrySelector[S]),
		Resolvers:         make(map[string]registry.Resolver),
		Controls:          make(map[string]registry.Control),
		RegistryControls:  make(map[string]registry.RegistryControl),
	}
	return b
}

// Add merges one fragment. On error the builder is left partially updated
// and should be discarded.
func (b *Builder[S]) Add(frag registry.Definition[S]) error {
	if err := b.mergeInitial(frag.Initial); err != nil {
		return err
	}
	if frag.Reducer != nil {
		b.reducers = append(b.reducers, frag.Reducer)
	}
	if frag.Equal != nil {
		if b.equal != nil {
			return &registry.CollisionError{Kind: "equality", Name: "Equal"}
		}
		b.equal = frag.Equal
	}

	if err := mergeNamed(b.def.Selectors, frag.Selectors, b.selectorNames, "selector"); err != nil {
		return err
	}
	if err := mergeNamed(b.def.MetaSelectors, frag.MetaSelectors, b.selectorNames, "selector"); err != nil {
		return err
	}
	if err := mergeNamed(b.def.RegistrySelectors, frag.RegistrySelectors, b.selectorNames, "selector"); err != nil {
		return err
	}
	if err := mergeNamed(b.def.Resolvers, frag.Resolvers, map[string]bool{}, "resolver"); err != nil {
		return err
	}
	if err := mergeNamed(b.def.Actions, frag.Actions, b.actionNames, "action"); err != nil {
		return err
	}
	if err := mergeNamed(b.def.Controls, frag.Controls, b.controlNames, "control"); err != nil {
		return err
	}
	return mergeNamed(b.def.RegistryControls, frag.RegistryControls, b.controlNames, "control")
}

// Build returns the combined definition.
func (b *Builder[S]) Build() registry.Definition[S] {
	def := b.def
	def.Initial, _ = b.initial.Interface().(S)
	def.Equal = b.equal

	reducers := append([]registry.Reducer[S](nil), b.reducers...)
	def.Reducer = func(state S, action registry.Action) S {
		for _, reduce := range reducers {
			state = reduce(state, action)
		}
		return state
	}
	return def
}

// Combine merges fragments in declaration order.
func Combine[S any](fragments ...registry.Definition[S]) (registry.Definition[S], error) {
	b := NewBuilder[S]()
	for _, frag := range fragments {
		if err := b.Add(frag); err != nil {
			return registry.Definition[S]{}, err
		}
	}
	return b.Build(), nil
}

// MustCombine is like Combine but panics on error.
// Use for package-level store construction.
func MustCombine[S any](fragments ...registry.Definition[S]) registry.Definition[S] {
	def, err := Combine(fragments...)
	if err != nil {
		panic(err)
	}
	return def
}

// mergeNamed copies src into dst, claiming every name in seen. Resolvers
// use their own namespace; the other kinds share seen across maps.
func mergeNamed[V any](dst, src map[string]V, seen map[string]bool, kind string) error {
	for name, v := range src {
		if seen[name] {
			return &registry.CollisionError{Kind: kind, Name: name}
		}
		if _, ok := dst[name]; ok {
			return &registry.CollisionError{Kind: kind, Name: name}
		}
		seen[name] = true
		dst[name] = v
	}
	return nil
}

// mergeInitial shallow-merges a fragment's initial state: struct fields and
// map keys that are set (non-zero, non-nil) in more than one fragment
// collide.
func (b *Builder[S]) mergeInitial(initial S) error {
	src := reflect.ValueOf(&initial).Elem()
	if src.IsZero() {
		return nil
	}

	switch src.Kind() {
	case reflect.Struct:
		for i := 0; i < src.NumField(); i++ {
			field := src.Type().Field(i)
			value := src.Field(i)
			if value.IsZero() {
				continue
			}
			if !field.IsExported() {
				return fmt.Errorf("compose: initial state field %s is unexported", field.Name)
			}
			if b.initSet[field.Name] {
				return &registry.CollisionError{Kind: "initial state", Name: field.Name}
			}
			b.initSet[field.Name] = true
			b.initial.Field(i).Set(value)
		}
		return nil

	case reflect.Map:
		if b.initial.IsNil() {
			b.initial.Set(reflect.MakeMap(src.Type()))
		}
		iter := src.MapRange()
		for iter.Next() {
			value := iter.Value()
			if isNil(value) {
				continue
			}
			key := fmt.Sprint(iter.Key().Interface())
			if b.initSet[key] {
				return &registry.CollisionError{Kind: "initial state", Name: key}
			}
			b.initSet[key] = true
			b.initial.SetMapIndex(iter.Key(), value)
		}
		return nil

	default:
		if b.initSet[""] {
			return &registry.CollisionError{Kind: "initial state", Name: src.Type().String()}
		}
		b.initSet[""] = true
		b.initial.Set(src)
		return nil
	}
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return false
}
