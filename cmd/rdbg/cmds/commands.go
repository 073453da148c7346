package cmds

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/go-delve/rdbg/cmd/rdbg/cmds/helphelpers"
	"github.com/go-delve/rdbg/pkg/agent"
	"github.com/go-delve/rdbg/pkg/breakpoints"
	"github.com/go-delve/rdbg/pkg/config"
	"github.com/go-delve/rdbg/pkg/logflags"
	"github.com/go-delve/rdbg/pkg/terminal"
	"github.com/go-delve/rdbg/pkg/version"
	"github.com/go-delve/rdbg/service/dap"
	"github.com/go-delve/rdbg/service/debugger"
	"github.com/go-delve/rdbg/service/rpc2"
	"github.com/go-delve/rdbg/service/rpccommon"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// initFile is the path to initialization file.
	initFile string

	// addr is the agent listen address.
	addr string
	// imagePath is the symbol image served by the agent.
	imagePath string
	// useWebSocket selects the websocket transport.
	useWebSocket bool
	// dapEvents is the file DAP breakpoint events are written to.
	dapEvents string

	rpcTimeout  time.Duration
	connections int

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const rdbgCommandLongDesc = `rdbg is the front end of a remote debugger.

rdbg connects to a debug agent and manages breakpoints and hardware
watchpoints on its target. Breakpoints on code that is not loaded yet stay
pending and are bound as soon as the agent reports the module defining them.`

// New returns an initialized command tree.
func New(docCall bool) *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main rdbg root command.
	rootCommand = &cobra.Command{
		Use:   "rdbg",
		Short: "rdbg is a remote debugger front end.",
		Long:  rdbgCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'rdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'rdbg help log').")
	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().BoolVar(&useWebSocket, "ws", false, "Use the websocket transport instead of raw TCP.")

	// 'connect' subcommand.
	connectCommand := &cobra.Command{
		Use:   "connect addr",
		Short: "Connect to a debug agent.",
		Long:  "Connect to a running debug agent and start a terminal session.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide an address as the first argument")
			}
			return nil
		},
		Run: connectCmd,
	}
	addConnectFlags(connectCommand.Flags())
	rootCommand.AddCommand(connectCommand)

	// 'agent' subcommand.
	agentCommand := &cobra.Command{
		Use:   "agent",
		Short: "Run an in-memory debug agent.",
		Long: `Runs a debug agent serving the symbol image given with --image.

The image is a YAML document listing line table entries and modules that are
not loaded yet. Lines read from standard input control the agent:

	load <module>		loads a module and notifies the client
	fail <handle> <msg>	reports that a placed breakpoint stopped working
`,
		Run: agentCmd,
	}
	agentCommand.Flags().StringVarP(&addr, "listen", "l", "127.0.0.1:0", "Agent listen address.")
	agentCommand.Flags().StringVar(&imagePath, "image", "", "Symbol image served by the agent.")
	rootCommand.AddCommand(agentCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rdbg\n%s\n", version.RdbgVersion)
			if log {
				fmt.Println(version.BuildInfo())
			}
		},
	}
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log debugger commands
	registry	Log breakpoint and watchpoint registry changes
	rpc		Log all RPC messages
	wire		Log wire encoding errors
	target		Log every call made to the agent
	agent		Log agent activity
	dap		Log all DAP messages

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "agent listening at" message.

`,
	})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if !docCall {
			helphelpers.Prepare(cmd)
		}
		defaultHelp(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func addConnectFlags(fs *pflag.FlagSet) {
	fs.StringVar(&dapEvents, "dap-events", "", "Write DAP breakpoint events to the specified file.")
	fs.DurationVar(&rpcTimeout, "rpc-timeout", 0, "Timeout of a single call to the agent (overrides the config file).")
	fs.IntVar(&connections, "connections", 0, "Number of connections opened to the agent (overrides the config file).")
}

func connectCmd(cmd *cobra.Command, args []string) {
	addr := args[0]
	if addr == "" {
		fmt.Fprint(os.Stderr, "An empty address was provided. You must provide an address as the first argument.\n")
		os.Exit(1)
	}
	if cmd.Flags().Changed("rpc-timeout") {
		conf.RPCTimeout = rpcTimeout
	}
	if cmd.Flags().Changed("connections") {
		conf.Connections = connections
	}
	os.Exit(connect(addr, conf))
}

func agentCmd(cmd *cobra.Command, args []string) {
	os.Exit(serveAgent(conf))
}

// session is a debugger connected to an agent.
type session struct {
	d    *debugger.Debugger
	pool *rpccommon.Pool
	sink io.Closer
}

func (s *session) Close() error {
	err := s.d.Detach()
	s.pool.Close()
	if s.sink != nil {
		s.sink.Close()
	}
	return err
}

func newSession(addr string, ws bool, dapEvents string, conf *config.Config) (*session, error) {
	conf.Defaults()
	dial := func(ctx context.Context) (*rpccommon.Channel, error) {
		return rpccommon.Dial(ctx, "tcp", addr, conf.MaxPayload)
	}
	if ws {
		url := addr
		if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			url = "ws://" + url + "/"
		}
		dial = func(ctx context.Context) (*rpccommon.Channel, error) {
			return rpccommon.DialWebSocket(ctx, url, conf.MaxPayload)
		}
	}
	pool := rpccommon.NewPool(conf.Connections, *conf.CallRetries, dial)
	client := rpc2.NewClient(pool)

	s := &session{pool: pool}
	var sink breakpoints.EventSink
	if dapEvents != "" {
		fh, err := os.Create(dapEvents)
		if err != nil {
			pool.Close()
			return nil, err
		}
		s.sink = fh
		sink = dap.NewEventSink(fh)
	}

	d, err := debugger.New(&debugger.Config{
		RPCTimeout:     conf.RPCTimeout,
		CallRetries:    *conf.CallRetries,
		EventPoll:      conf.EventPoll,
		RetiredIDCache: conf.RetiredIDCache,
		Sink:           sink,
	}, client, client)
	if err != nil {
		pool.Close()
		if s.sink != nil {
			s.sink.Close()
		}
		return nil, err
	}
	s.d = d
	return s, nil
}

func connect(addr string, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	s, err := newSession(addr, useWebSocket, dapEvents, conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer s.pool.Close()

	term := terminal.New(s.d, conf)
	term.InitFile = initFile
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}

// agentServer is an agent listening for connections.
type agentServer struct {
	agent    *agent.Agent
	server   *rpccommon.Server
	listener net.Listener
	http     *http.Server
}

func newAgentServer(addr, imagePath string, ws bool, conf *config.Config) (*agentServer, error) {
	conf.Defaults()
	var img *agent.Image
	if imagePath != "" {
		var err error
		img, err = agent.LoadImage(imagePath)
		if err != nil {
			return nil, err
		}
	}
	a := agent.New(img)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("couldn't start listener: %s", err)
	}
	as := &agentServer{
		agent:    a,
		server:   rpccommon.NewServer(conf.MaxPayload, rpc2.NewServer(a)),
		listener: listener,
	}
	if ws {
		as.http = &http.Server{Handler: as.server}
	}
	return as, nil
}

// Run serves connections until Stop is called.
func (as *agentServer) Run() error {
	if as.http != nil {
		if err := as.http.Serve(as.listener); err != http.ErrServerClosed {
			return err
		}
		return nil
	}
	return as.server.Serve(as.listener)
}

func (as *agentServer) Stop() {
	if as.http != nil {
		as.http.Close()
	}
	as.server.Stop()
}

// control executes one line read from the agent's standard input.
func (as *agentServer) control(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "load":
		if len(fields) != 2 {
			return errors.New("usage: load <module>")
		}
		return as.agent.LoadModule(fields[1])
	case "fail":
		if len(fields) < 2 {
			return errors.New("usage: fail <handle> <msg>")
		}
		handle, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("invalid handle %q", fields[1])
		}
		return as.agent.FailBreakpoint(handle, strings.Join(fields[2:], " "))
	}
	return fmt.Errorf("unknown command %q", fields[0])
}

func serveAgent(conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	as, err := newAgentServer(addr, imagePath, useWebSocket, conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if logDest == "" {
		fmt.Printf("agent listening at: %s\n", as.listener.Addr())
	}

	done := make(chan error, 1)
	go func() {
		done <- as.Run()
	}()
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err := as.control(scanner.Text()); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ch:
	case err := <-done:
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	}
	as.Stop()
	return 0
}
