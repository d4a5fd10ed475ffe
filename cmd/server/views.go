package main

import (
	"context"
	"time"

	"github.com/RodolfoSilva/live-data/internal/view"
)

// CounterView is the demo view served under dv:c:counter. It exercises the
// full pipeline: mount-time assigns, client and server increments, flash,
// push events, an async assign, and a nested greeter component.
type CounterView struct{}

func (CounterView) Mount(params map[string]any, sk *view.Socket) error {
	sk.Assign("counter", 0)
	sk.AssignAsync([]string{"lazy_counter"}, func(ctx context.Context) (map[string]any, error) {
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return map[string]any{"lazy_counter": 3}, nil
	})
	return nil
}

func (CounterView) HandleEvent(event string, payload map[string]any, sk *view.Socket) error {
	switch event {
	case "increment":
		counter, _ := sk.Get("counter")
		sk.Assign("counter", asInt(counter)+1)
	case "decrement":
		counter, _ := sk.Get("counter")
		sk.Assign("counter", asInt(counter)-1)
	}
	return nil
}

func (CounterView) HandleInfo(msg any, sk *view.Socket) error {
	if msg == "increment" {
		counter, _ := sk.Get("counter")
		sk.Assign("counter", asInt(counter)+1)
		sk.PutFlash("info", "Incremented!")
		sk.PushEvent("chart", map[string]any{})
	}
	return nil
}

func (CounterView) Render(assigns map[string]any) any {
	lazy, ok := assigns["lazy_counter"].(view.AsyncResult)
	if !ok {
		lazy = view.AsyncLoading()
	}
	return map[string]any{
		"counter": assigns["counter"],
		"lazy_counter": view.Resolve(lazy, map[string]func(v any) any{
			view.ClauseLoading: func(any) any { return "Loading..." },
			view.ClauseOK:      func(v any) any { return v },
			view.ClauseFailed:  func(v any) any { return "Failed to load" },
		}),
		"welcome": view.Component{
			ID:      "hello",
			Module:  GreeterComponent{},
			Assigns: map[string]any{"name": "World"},
		},
	}
}

// GreeterComponent is a render-time sub-component.
type GreeterComponent struct{}

func (GreeterComponent) Render(assigns map[string]any) any {
	return map[string]any{"hello": assigns["name"]}
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
