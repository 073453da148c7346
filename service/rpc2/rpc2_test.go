package rpc2

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-delve/rdbg/pkg/agent"
	"github.com/go-delve/rdbg/pkg/breakpoints"
	"github.com/go-delve/rdbg/pkg/ids"
	"github.com/go-delve/rdbg/service/api"
	"github.com/go-delve/rdbg/service/rpccommon"
)

const testImage = `
lines:
  - {file: /src/main.go, line: 10, addr: 0x1000, function: main.main}
  - {file: /src/main.go, line: 11, addr: 0x1010, function: main.main}
modules:
  - name: libplugin.so
    lines:
      - {file: /src/plugin.go, line: 3, addr: 0x9000, function: plugin.Init}
`

func startAgent(t *testing.T) (*agent.Agent, *RPCClient) {
	t.Helper()
	img, err := agent.ParseImage([]byte(testImage))
	require.NoError(t, err)
	a := agent.New(img)

	s := rpccommon.NewServer(0, NewServer(a))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(l)
	t.Cleanup(s.Stop)

	addr := l.Addr().String()
	pool := rpccommon.NewPool(2, 0, func(ctx context.Context) (*rpccommon.Channel, error) {
		return rpccommon.Dial(ctx, "tcp", addr, 0)
	})
	t.Cleanup(func() { pool.Close() })
	return a, NewClient(pool)
}

func TestServedMethods(t *testing.T) {
	s := rpccommon.NewServer(0, NewServer(agent.New(nil)))
	require.ElementsMatch(t, []string{
		"RPCServer.SetBreakpoint",
		"RPCServer.ClearBreakpoint",
		"RPCServer.EnableBreakpoint",
		"RPCServer.BreakpointLocations",
		"RPCServer.SetWatchpoint",
		"RPCServer.ClearWatchpoint",
		"RPCServer.EnableWatchpoint",
		"RPCServer.WaitForEvent",
	}, s.Methods())
}

func TestBreakpointCalls(t *testing.T) {
	a, c := startAgent(t)
	ctx := context.Background()

	res, err := c.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FileLineLocation, File: "main.go", Line: 11, Cond: "x > 1"})
	require.NoError(t, err)
	require.NotZero(t, res.ID)
	require.Len(t, res.Locations, 1)
	require.Equal(t, uint64(0x1010), res.Locations[0].PC)
	require.Equal(t, "main.main", res.Locations[0].Function)

	locs, err := c.BreakpointLocations(ctx, res.ID)
	require.NoError(t, err)
	require.Equal(t, res.Locations, locs)

	require.NoError(t, c.EnableBreakpoint(ctx, res.ID, false))
	require.False(t, a.BreakpointEnabled(res.ID))
	require.NoError(t, c.EnableBreakpoint(ctx, res.ID, true))
	require.True(t, a.BreakpointEnabled(res.ID))

	require.NoError(t, c.ClearBreakpoint(ctx, res.ID, res.Locations))
	require.Equal(t, 0, a.NumBreakpoints())
	// repeating a clear that already happened succeeds
	require.NoError(t, c.ClearBreakpoint(ctx, res.ID, res.Locations))

	var serr *rpccommon.ServerError
	err = c.ClearBreakpoint(ctx, res.ID+100, nil)
	require.True(t, errors.As(err, &serr), "got %v", err)
	err = c.EnableBreakpoint(ctx, res.ID, true)
	require.True(t, errors.As(err, &serr), "got %v", err)
}

func TestBindErrorsCrossTheWire(t *testing.T) {
	_, c := startAgent(t)
	ctx := context.Background()

	_, err := c.SetBreakpoint(ctx, api.LocationSpec{Kind: api.FunctionLocation, Function: "main.nothere", Offset: 1})
	var berr *api.BindError
	require.True(t, errors.As(err, &berr), "got %v", err)
	require.Equal(t, api.BindErrNoFunctionFound, berr.Code)

	_, err = c.SetWatchpoint(ctx, api.AddrRange{Addr: 0x5000, Size: 3}, api.AccessWrite)
	require.True(t, errors.As(err, &berr), "got %v", err)
	require.Equal(t, api.BindErrInvalidWatchSize, berr.Code)
}

func TestWatchpointSlots(t *testing.T) {
	a, c := startAgent(t)
	ctx := context.Background()

	var handles []int
	for i := 0; i < agent.MaxWatchpoints; i++ {
		id, err := c.SetWatchpoint(ctx, api.AddrRange{Addr: 0x5000 + uint64(i)*8, Size: 8}, api.AccessReadWrite)
		require.NoError(t, err)
		handles = append(handles, id)
	}
	_, err := c.SetWatchpoint(ctx, api.AddrRange{Addr: 0x6000, Size: 8}, api.AccessRead)
	var berr *api.BindError
	require.True(t, errors.As(err, &berr), "got %v", err)
	require.Equal(t, api.BindErrNoWatchSlots, berr.Code)

	require.NoError(t, c.EnableWatchpoint(ctx, handles[0], false))
	require.False(t, a.WatchpointEnabled(handles[0]))
	require.Equal(t, agent.MaxWatchpoints, a.NumWatchpoints())

	for _, id := range handles {
		require.NoError(t, c.ClearWatchpoint(ctx, id))
	}
	require.Equal(t, 0, a.NumWatchpoints())
}

func TestWaitForEvent(t *testing.T) {
	a, c := startAgent(t)
	ctx := context.Background()

	ev, err := c.WaitForEvent(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.Nil(t, ev)

	require.NoError(t, a.LoadModule("libplugin.so"))
	ev, err = c.WaitForEvent(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, ev)
	require.Equal(t, api.ModuleLoaded, ev.Kind)
	require.Equal(t, "libplugin.so", ev.Module)
}

func TestBindTimeoutLeavesBreakpointUnbound(t *testing.T) {
	a, c := startAgent(t)
	a.SetLatency(300 * time.Millisecond)

	alloc, err := ids.New(16)
	require.NoError(t, err)
	reg := breakpoints.NewRegistry(alloc, nil)
	bp := reg.CreatePendingBreakpoint(api.LocationSpec{Kind: api.FileLineLocation, File: "main.go", Line: 10}, c)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = reg.Bind(ctx, bp)
	var terr *rpccommon.TransportError
	require.True(t, errors.As(err, &terr), "got %v", err)
	require.Equal(t, breakpoints.Unbound, bp.State())
	require.Equal(t, 0, bp.ID())
	require.Equal(t, 0, reg.GetNumBoundBreakpoints())
	require.Equal(t, 1, reg.GetNumPendingBreakpoints())
}
