package starbind

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"

	"github.com/go-delve/rdbg/pkg/breakpoints"
	"github.com/go-delve/rdbg/service/api"
)

func newDict(m map[string]starlark.Value) *starlark.Dict {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	d := starlark.NewDict(len(m))
	for _, k := range keys {
		d.SetKey(starlark.String(k), m[k])
	}
	return d
}

func locationValue(l api.Location) starlark.Value {
	return newDict(map[string]starlark.Value{
		"ID":       starlark.MakeInt(l.ID),
		"PC":       starlark.MakeUint64(l.PC),
		"File":     starlark.String(l.File),
		"Line":     starlark.MakeInt(l.Line),
		"Function": starlark.String(l.Function),
	})
}

// breakpointValue returns a snapshot of bp as a starlark dict.
func breakpointValue(bp *breakpoints.PendingBreakpoint) starlark.Value {
	locs := bp.Locations()
	lv := make([]starlark.Value, len(locs))
	for i := range locs {
		lv[i] = locationValue(locs[i])
	}
	var errv starlark.Value = starlark.None
	if err := bp.Err(); err != nil {
		errv = starlark.String(err.Error())
	}
	return newDict(map[string]starlark.Value{
		"ID":        starlark.MakeInt(bp.ID()),
		"State":     starlark.String(bp.State().String()),
		"Request":   starlark.String(bp.Request().String()),
		"Locations": starlark.NewList(lv),
		"Error":     errv,
		"Enabled":   starlark.Bool(bp.Enabled()),
	})
}

func watchpointValue(w *breakpoints.Watchpoint) starlark.Value {
	return newDict(map[string]starlark.Value{
		"ID":      starlark.MakeInt(w.ID()),
		"Addr":    starlark.MakeUint64(w.Range.Addr),
		"Size":    starlark.MakeUint64(w.Range.Size),
		"Range":   starlark.String(w.Range.String()),
		"Kind":    starlark.String(w.Kind.String()),
		"Enabled": starlark.Bool(w.Enabled()),
	})
}

// describe returns the text the REPL prints for v. Breakpoint and
// watchpoint snapshots are summarized on one line, the way the terminal
// lists them.
func describe(v starlark.Value) string {
	d, ok := v.(*starlark.Dict)
	if !ok {
		return v.String()
	}
	field := func(k string) starlark.Value {
		x, found, _ := d.Get(starlark.String(k))
		if !found {
			return nil
		}
		return x
	}
	str := func(k string) string {
		s, _ := starlark.AsString(field(k))
		return s
	}
	id := field("ID")
	if id == nil {
		return v.String()
	}
	disabled := ""
	if field("Enabled") == starlark.False {
		disabled = ", disabled"
	}
	switch {
	case field("State") != nil:
		return fmt.Sprintf("Breakpoint %v (%s%s) at %s", id, str("State"), disabled, str("Request"))
	case field("Kind") != nil:
		return fmt.Sprintf("Watchpoint %v on %s (%s%s)", id, str("Range"), str("Kind"), disabled)
	}
	return v.String()
}

// toStarlarkValue converts the arguments passed to a script's main
// function.
func toStarlarkValue(v interface{}) starlark.Value {
	switch v := v.(type) {
	case nil:
		return starlark.None
	case starlark.Value:
		return v
	case string:
		return starlark.String(v)
	case bool:
		return starlark.Bool(v)
	case int:
		return starlark.MakeInt(v)
	case int64:
		return starlark.MakeInt64(v)
	case uint64:
		return starlark.MakeUint64(v)
	case []string:
		r := make([]starlark.Value, len(v))
		for i := range v {
			r[i] = starlark.String(v[i])
		}
		return starlark.NewList(r)
	case error:
		return starlark.String(v.Error())
	default:
		return starlark.String(fmt.Sprintf("%v", v))
	}
}
