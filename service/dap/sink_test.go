package dap

import (
	"bufio"
	"bytes"
	"context"
	"testing"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/rdbg/pkg/agent"
	"github.com/go-delve/rdbg/pkg/breakpoints"
	"github.com/go-delve/rdbg/pkg/ids"
	"github.com/go-delve/rdbg/service/api"
)

const testImage = `
lines:
  - {file: /src/main.go, line: 10, addr: 0x1000, function: main.main}
`

func readEvents(t *testing.T, b []byte) []dap.Message {
	t.Helper()
	r := bufio.NewReader(bytes.NewReader(b))
	var msgs []dap.Message
	for {
		msg, err := dap.ReadProtocolMessage(r)
		if err != nil {
			return msgs
		}
		msgs = append(msgs, msg)
	}
}

func TestBreakpointEvents(t *testing.T) {
	img, err := agent.ParseImage([]byte(testImage))
	require.NoError(t, err)
	a := agent.New(img)

	var buf bytes.Buffer
	alloc, err := ids.New(8)
	require.NoError(t, err)
	reg := breakpoints.NewRegistry(alloc, NewEventSink(&buf))
	ctx := context.Background()

	bp := reg.CreatePendingBreakpoint(api.LocationSpec{Kind: api.FileLineLocation, File: "main.go", Line: 10}, a)
	require.NoError(t, reg.Bind(ctx, bp))
	failed := reg.CreatePendingBreakpoint(api.LocationSpec{Kind: api.FunctionLocation, Function: "nope", Offset: 1}, a)
	require.NoError(t, reg.Bind(ctx, failed))
	require.NoError(t, reg.RemovePendingBreakpoint(ctx, bp))
	_, err = reg.Watch(ctx, a, api.AddrRange{Addr: 0x4000, Size: 4}, api.AccessWrite)
	require.NoError(t, err)

	msgs := readEvents(t, buf.Bytes())
	require.Len(t, msgs, 4)

	ev := msgs[0].(*dap.BreakpointEvent)
	require.Equal(t, "new", ev.Body.Reason)
	require.Equal(t, bp.ID(), ev.Body.Breakpoint.Id)
	require.True(t, ev.Body.Breakpoint.Verified)
	require.Equal(t, 10, ev.Body.Breakpoint.Line)
	require.Equal(t, 1, ev.Seq)

	ev = msgs[1].(*dap.BreakpointEvent)
	require.Equal(t, "new", ev.Body.Reason)
	require.False(t, ev.Body.Breakpoint.Verified)
	require.Equal(t, api.BindErrNoFunctionFound.Message(), ev.Body.Breakpoint.Message)

	ev = msgs[2].(*dap.BreakpointEvent)
	require.Equal(t, "removed", ev.Body.Reason)
	require.Equal(t, bp.ID(), ev.Body.Breakpoint.Id)

	out := msgs[3].(*dap.OutputEvent)
	require.Contains(t, out.Body.Output, "Watchpoint")
	require.Equal(t, 4, out.Seq)
}
