package cmds

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/rdbg/cmd/rdbg/cmds/helphelpers"
	"github.com/go-delve/rdbg/pkg/breakpoints"
	"github.com/go-delve/rdbg/pkg/config"
)

const testImage = `
lines:
  - {file: /src/main.go, line: 10, addr: 0x1000, function: main.main}
modules:
  - name: libplugin.so
    lines:
      - {file: /src/plugin.go, line: 3, addr: 0x9000, function: plugin.Init}
`

func startAgent(t *testing.T, ws bool) *agentServer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.yml")
	require.NoError(t, os.WriteFile(path, []byte(testImage), 0644))
	as, err := newAgentServer("127.0.0.1:0", path, ws, &config.Config{})
	require.NoError(t, err)
	go as.Run()
	t.Cleanup(as.Stop)
	return as
}

func testConfig() *config.Config {
	retries := 1
	return (&config.Config{RPCTimeout: time.Second, EventPoll: 20 * time.Millisecond, CallRetries: &retries}).Defaults()
}

func testSession(t *testing.T, ws bool) {
	as := startAgent(t, ws)
	dapFile := filepath.Join(t.TempDir(), "events")
	s, err := newSession(as.listener.Addr().String(), ws, dapFile, testConfig())
	require.NoError(t, err)

	bp, err := s.d.CreateBreakpoint("main.go:10")
	require.NoError(t, err)
	require.Equal(t, breakpoints.Bound, bp.State())

	deferred, err := s.d.CreateBreakpoint("plugin.Init")
	require.NoError(t, err)
	require.Equal(t, breakpoints.Error, deferred.State())

	require.NoError(t, as.control("load libplugin.so"))
	require.Eventually(t, func() bool {
		return deferred.State() == breakpoints.Bound
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close())
	require.Zero(t, as.agent.NumBreakpoints())

	fh, err := os.Open(dapFile)
	require.NoError(t, err)
	defer fh.Close()
	msg, err := dap.ReadProtocolMessage(bufio.NewReader(fh))
	require.NoError(t, err)
	ev, ok := msg.(*dap.BreakpointEvent)
	require.True(t, ok)
	require.Equal(t, "new", ev.Body.Reason)
}

func TestSessionTCP(t *testing.T) {
	testSession(t, false)
}

func TestSessionWebSocket(t *testing.T) {
	testSession(t, true)
}

func TestAgentControl(t *testing.T) {
	as := startAgent(t, false)
	require.NoError(t, as.control(""))
	require.Error(t, as.control("load"))
	require.Error(t, as.control("load nothing.so"))
	require.Error(t, as.control("fail x"))
	require.Error(t, as.control("fail 1 gone"))
	require.Error(t, as.control("frobnicate"))
}

func TestCommandTree(t *testing.T) {
	t.Setenv("RDBG_CONFIG_DIR", t.TempDir())
	root := New(true)
	var names []string
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, name := range []string{"agent", "connect", "log", "version"} {
		require.Contains(t, names, name)
	}

	connectCommand, _, err := root.Find([]string{"connect", "localhost:1234"})
	require.NoError(t, err)
	require.NotNil(t, connectCommand.Flags().Lookup("dap-events"))
	require.NotNil(t, connectCommand.Flags().Lookup("rpc-timeout"))

	agentCommand, _, err := root.Find([]string{"agent"})
	require.NoError(t, err)
	require.NoError(t, agentCommand.ParseFlags([]string{"--init", "x", "--listen", "127.0.0.1:4040"}))
	helphelpers.Prepare(agentCommand)
	require.True(t, root.PersistentFlags().Lookup("init").Hidden)
	require.False(t, agentCommand.Flags().Lookup("listen").Hidden)
}
