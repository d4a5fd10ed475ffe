// Package render turns a view's assigns into a plain JSON-compatible tree.
//
// The walk flattens struct values to field maps, coerces map keys to
// strings, drops nil map values and nil list entries, and expands embedded
// sub-component references by invoking their own render, recursively.
package render

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/RodolfoSilva/live-data/internal/view"
)

// RenderedComponent is a sub-component discovered during a render, with its
// fully rendered sub-tree. The list is available for implementations that
// want per-component identity; the core pipeline only consumes the tree.
type RenderedComponent struct {
	// ID is the component instance id.
	ID string
	// Tree is the component's rendered sub-tree.
	Tree any
}

// Render invokes the view's render and normalizes the result. The returned
// tree contains only JSON-compatible values; every sub-component reference
// has been replaced by its rendered sub-tree. Components are listed in
// discovery order, parents before their descendants.
func Render(v view.View, assigns map[string]any) (any, []RenderedComponent, error) {
	var comps []RenderedComponent
	tree, keep, err := normalize(v.Render(assigns), &comps)
	if err != nil {
		return nil, nil, err
	}
	if !keep {
		return nil, comps, nil
	}
	return tree, comps, nil
}

// normalize walks a node. The second return is false when the node is nil
// and must be elided by its container.
func normalize(node any, comps *[]RenderedComponent) (any, bool, error) {
	switch n := node.(type) {
	case nil:
		return nil, false, nil
	case view.Component:
		return expandComponent(n, comps)
	case *view.Component:
		if n == nil {
			return nil, false, nil
		}
		return expandComponent(*n, comps)
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return n, true, nil
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			nv, keep, err := normalize(val, comps)
			if err != nil {
				return nil, false, err
			}
			if keep {
				out[k] = nv
			}
		}
		return out, true, nil
	case []any:
		out := make([]any, 0, len(n))
		for _, val := range n {
			nv, keep, err := normalize(val, comps)
			if err != nil {
				return nil, false, err
			}
			if keep {
				out = append(out, nv)
			}
		}
		return out, true, nil
	}

	rv := reflect.ValueOf(node)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil, false, nil
		}
		return normalize(rv.Elem().Interface(), comps)
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			nv, keep, err := normalize(iter.Value().Interface(), comps)
			if err != nil {
				return nil, false, err
			}
			if keep {
				out[fmt.Sprint(iter.Key().Interface())] = nv
			}
		}
		return out, true, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			nv, keep, err := normalize(rv.Index(i).Interface(), comps)
			if err != nil {
				return nil, false, err
			}
			if keep {
				out = append(out, nv)
			}
		}
		return out, true, nil
	case reflect.Struct:
		return flattenStruct(node, comps)
	default:
		// Remaining scalar kinds (named string/number types and friends)
		// round-trip through JSON like structs do.
		return flattenStruct(node, comps)
	}
}

// flattenStruct reduces a struct-like value to its JSON field map and
// normalizes the result.
func flattenStruct(node any, comps *[]RenderedComponent) (any, bool, error) {
	raw, err := json.Marshal(node)
	if err != nil {
		return nil, false, fmt.Errorf("render: cannot flatten %T: %w", node, err)
	}
	var flat any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, false, fmt.Errorf("render: cannot flatten %T: %w", node, err)
	}
	return normalize(flat, comps)
}

// expandComponent renders a sub-component reference in place. The parent's
// component entry is reserved before recursing so discovery order lists
// parents ahead of their transitive children.
func expandComponent(c view.Component, comps *[]RenderedComponent) (any, bool, error) {
	if c.Module == nil {
		return nil, false, fmt.Errorf("render: component %q has no module", c.ID)
	}
	idx := len(*comps)
	*comps = append(*comps, RenderedComponent{ID: c.ID})
	sub, keep, err := normalize(c.Module.Render(c.Assigns), comps)
	if err != nil {
		return nil, false, err
	}
	if !keep {
		sub = nil
	}
	(*comps)[idx].Tree = sub
	return sub, keep, nil
}
