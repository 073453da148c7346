package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-delve/rdbg/service/api"
)

const testImage = `
lines:
  - {file: /src/main.go, line: 10, addr: 0x1000, function: main.main}
  - {file: /src/main.go, line: 11, addr: 0x1010, function: main.main}
  - {file: /src/main.go, line: 12, addr: 0x1020, function: main.main}
  - {file: /src/util.go, line: 5, addr: 0x2000, function: main.helper}
  - {file: /src/util.go, line: 5, addr: 0x3000, function: main.caller}
modules:
  - name: libplugin.so
    lines:
      - {file: /src/plugin.go, line: 3, addr: 0x9000, function: plugin.Init}
      - {file: /src/plugin.go, line: 4, addr: 0x9010, function: plugin.Init}
`

func newTestAgent(t *testing.T) *Agent {
	t.Helper()
	img, err := ParseImage([]byte(testImage))
	if err != nil {
		t.Fatalf("ParseImage: %v", err)
	}
	return New(img)
}

func bindCode(err error) api.BindErrorCode {
	var berr *api.BindError
	if errors.As(err, &berr) {
		return berr.Code
	}
	return 255
}

func TestResolveFileLine(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()

	res, err := a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FileLineLocation, File: "main.go", Line: 11})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Locations) != 1 || res.Locations[0].PC != 0x1010 {
		t.Fatalf("unexpected locations %v", res.Locations)
	}

	// inlined copies bind to every address
	res, err = a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FileLineLocation, File: "util.go", Line: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Locations) != 2 {
		t.Fatalf("expected two locations, got %v", res.Locations)
	}
	if res.Locations[0].ID == res.Locations[1].ID {
		t.Fatalf("location ids not distinct: %v", res.Locations)
	}
}

func TestResolveFunction(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()

	res, err := a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FunctionLocation, Function: "main.main"})
	if err != nil || len(res.Locations) != 1 || res.Locations[0].PC != 0x1000 {
		t.Fatalf("main.main: %v %v", res, err)
	}
	res, err = a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FunctionLocation, Function: "main.main", Offset: 2})
	if err != nil || len(res.Locations) != 1 || res.Locations[0].PC != 0x1020 {
		t.Fatalf("main.main+2: %v %v", res, err)
	}
	_, err = a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FunctionLocation, Function: "main.main", Offset: 9})
	if bindCode(err) != api.BindErrPositionNotAvailable {
		t.Fatalf("expected position not available, got %v", err)
	}
	_, err = a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FunctionLocation, Function: "nope", Offset: 1})
	if bindCode(err) != api.BindErrNoFunctionFound {
		t.Fatalf("expected no function found, got %v", err)
	}

	// unresolved by name: accepted with no locations
	res, err = a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FunctionLocation, Function: "plugin.Init"})
	if err != nil || len(res.Locations) != 0 {
		t.Fatalf("plugin.Init: %v %v", res, err)
	}
}

func TestResolveAddress(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	res, err := a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.AddressLocation, Addr: 0x2000})
	if err != nil || res.Locations[0].Function != "main.helper" {
		t.Fatalf("%v %v", res, err)
	}
	res, err = a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.AddressLocation, Addr: 0x4444})
	if err != nil || res.Locations[0].File != "" {
		t.Fatalf("%v %v", res, err)
	}
	_, err = a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.AddressLocation})
	if bindCode(err) != api.BindErrInvalidAddress {
		t.Fatalf("expected invalid address, got %v", err)
	}
	_, err = a.SetBreakpoint(ctx, api.LocationSpec{})
	if bindCode(err) != api.BindErrNotSupported {
		t.Fatalf("expected not supported, got %v", err)
	}
}

func TestLoadModule(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	res, _ := a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FunctionLocation, Function: "plugin.Init"})

	if err := a.LoadModule("libplugin.so"); err != nil {
		t.Fatal(err)
	}
	if err := a.LoadModule("libplugin.so"); err == nil {
		t.Fatal("module loaded twice")
	}
	locs, err := a.BreakpointLocations(ctx, res.ID)
	if err != nil || len(locs) != 1 || locs[0].PC != 0x9000 {
		t.Fatalf("%v %v", locs, err)
	}
	ev, err := a.WaitForEvent(ctx, time.Second)
	if err != nil || ev == nil || ev.Kind != api.ModuleLoaded || ev.Module != "libplugin.so" {
		t.Fatalf("unexpected event %v %v", ev, err)
	}
}

func TestWatchpointSlots(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	if _, err := a.SetWatchpoint(ctx, api.AddrRange{Addr: 0x1000, Size: 3}, api.AccessWrite); bindCode(err) != api.BindErrInvalidWatchSize {
		t.Fatalf("expected invalid size, got %v", err)
	}
	var ids []int
	for i := 0; i < MaxWatchpoints; i++ {
		id, err := a.SetWatchpoint(ctx, api.AddrRange{Addr: 0x1000 + uint64(i)*8, Size: 8}, api.AccessWrite)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if _, err := a.SetWatchpoint(ctx, api.AddrRange{Addr: 0x5000, Size: 8}, api.AccessRead); bindCode(err) != api.BindErrNoWatchSlots {
		t.Fatalf("expected no slots, got %v", err)
	}
	if err := a.ClearWatchpoint(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	// a second clear of the same handle is a repeated request, not an error
	if err := a.ClearWatchpoint(ctx, ids[0]); err != nil {
		t.Fatalf("clearing twice: %v", err)
	}
	if err := a.ClearWatchpoint(ctx, 99); !errors.As(err, new(NoWatchpointError)) {
		t.Fatalf("expected NoWatchpointError, got %v", err)
	}
	if a.NumWatchpoints() != MaxWatchpoints-1 {
		t.Fatalf("NumWatchpoints = %d", a.NumWatchpoints())
	}
}

func TestClearBreakpointTwice(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	res, err := a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FileLineLocation, File: "main.go", Line: 10})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.ClearBreakpoint(ctx, res.ID, res.Locations); err != nil {
		t.Fatal(err)
	}
	if err := a.ClearBreakpoint(ctx, res.ID, res.Locations); err != nil {
		t.Fatalf("clearing twice: %v", err)
	}
	if err := a.ClearBreakpoint(ctx, res.ID+1, nil); !errors.As(err, new(NoBreakpointError)) {
		t.Fatalf("expected NoBreakpointError for a handle never issued, got %v", err)
	}
	if _, err := a.BreakpointLocations(ctx, res.ID); !errors.As(err, new(NoBreakpointError)) {
		t.Fatalf("expected NoBreakpointError after clear, got %v", err)
	}
	if a.NumBreakpoints() != 0 {
		t.Fatalf("NumBreakpoints = %d", a.NumBreakpoints())
	}
}

func TestEnableBreakpoint(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	res, err := a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FunctionLocation, Function: "main.main"})
	if err != nil {
		t.Fatal(err)
	}
	if !a.BreakpointEnabled(res.ID) {
		t.Fatal("new breakpoint should be enabled")
	}
	if err := a.EnableBreakpoint(ctx, res.ID, false); err != nil {
		t.Fatal(err)
	}
	if a.BreakpointEnabled(res.ID) {
		t.Fatal("breakpoint still enabled")
	}
	locs, err := a.BreakpointLocations(ctx, res.ID)
	if err != nil || len(locs) != len(res.Locations) {
		t.Fatalf("disabled breakpoint lost its locations: %v %v", locs, err)
	}
	if err := a.EnableBreakpoint(ctx, res.ID, true); err != nil {
		t.Fatal(err)
	}
	if !a.BreakpointEnabled(res.ID) {
		t.Fatal("breakpoint not enabled again")
	}
	if err := a.EnableBreakpoint(ctx, 42, true); !errors.As(err, new(NoBreakpointError)) {
		t.Fatalf("expected NoBreakpointError, got %v", err)
	}
}

func TestEnableWatchpoint(t *testing.T) {
	a := newTestAgent(t)
	ctx := context.Background()
	id, err := a.SetWatchpoint(ctx, api.AddrRange{Addr: 0x4000, Size: 4}, api.AccessReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.EnableWatchpoint(ctx, id, false); err != nil {
		t.Fatal(err)
	}
	if a.WatchpointEnabled(id) {
		t.Fatal("watchpoint still enabled")
	}
	if a.NumWatchpoints() != 1 {
		t.Fatalf("disabled watchpoint should keep its slot, NumWatchpoints = %d", a.NumWatchpoints())
	}
	if err := a.EnableWatchpoint(ctx, id+1, true); !errors.As(err, new(NoWatchpointError)) {
		t.Fatalf("expected NoWatchpointError, got %v", err)
	}
}

func TestWaitForEventTimeout(t *testing.T) {
	a := newTestAgent(t)
	ev, err := a.WaitForEvent(context.Background(), 10*time.Millisecond)
	if ev != nil || err != nil {
		t.Fatalf("expected no event, got %v %v", ev, err)
	}

	done := make(chan *api.TargetEvent)
	go func() {
		ev, _ := a.WaitForEvent(context.Background(), 5*time.Second)
		done <- ev
	}()
	res, _ := a.SetBreakpoint(context.Background(), api.LocationSpec{Kind: api.FunctionLocation, Function: "main.main"})
	if err := a.FailBreakpoint(res.ID, "module unloaded"); err != nil {
		t.Fatal(err)
	}
	ev = <-done
	if ev == nil || ev.Kind != api.BreakpointFailed || ev.BreakpointID != res.ID {
		t.Fatalf("unexpected event %v", ev)
	}
}

func TestLatencyHonorsContext(t *testing.T) {
	a := newTestAgent(t)
	a.SetLatency(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := a.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FunctionLocation, Function: "main.main"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if a.NumBreakpoints() != 0 {
		t.Fatal("breakpoint placed after timeout")
	}
}
