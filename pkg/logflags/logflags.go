package logflags

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var debugger = false
var registry = false
var rpc = false
var wire = false
var target = false
var agent = false
var dap = false

var (
	mu     sync.Mutex
	logOut io.WriteCloser
)

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	mu.Lock()
	out := logOut
	mu.Unlock()

	logger := logrus.New()
	if out != nil {
		logger.Out = out
	}
	logger.Formatter = &textFormatter{}
	logger.Level = logrus.DebugLevel
	if !flag {
		logger.Level = logrus.ErrorLevel
	}
	return logger.WithFields(fields)
}

// Debugger returns true if the debugger session should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the debugger session.
func DebuggerLogger() *logrus.Entry {
	return makeLogger(debugger, logrus.Fields{"layer": "debugger"})
}

// Registry returns true if the breakpoint registry should log every state
// transition.
func Registry() bool {
	return registry
}

// RegistryLogger returns a logger for the breakpoint registry.
func RegistryLogger() *logrus.Entry {
	return makeLogger(registry, logrus.Fields{"layer": "registry"})
}

// RPC returns true if RPC messages should be logged.
func RPC() bool {
	return rpc
}

// RPCLogger returns a logger for RPC messages.
func RPCLogger() *logrus.Entry {
	return makeLogger(rpc, logrus.Fields{"layer": "rpc"})
}

// Wire returns true if the raw frames exchanged with the agent should be
// logged.
func Wire() bool {
	return wire
}

// WireLogger returns a logger for the wire codec.
func WireLogger() *logrus.Entry {
	return makeLogger(wire, logrus.Fields{"layer": "wire"})
}

// Target returns true if calls into the remote target should be logged.
func Target() bool {
	return target
}

// TargetLogger returns a logger for the remote target adapter.
func TargetLogger() *logrus.Entry {
	return makeLogger(target, logrus.Fields{"layer": "target"})
}

// Agent returns true if the agent should log.
func Agent() bool {
	return agent
}

// AgentLogger returns a logger for the in-process remote agent.
func AgentLogger() *logrus.Entry {
	return makeLogger(agent, logrus.Fields{"layer": "agent"})
}

// DAP returns true if the DAP event sink should log.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for the DAP event sink.
func DAPLogger() *logrus.Entry {
	return makeLogger(dap, logrus.Fields{"layer": "dap"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		var out io.WriteCloser
		if err == nil {
			out = os.NewFile(uintptr(n), "rdbg-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			out = fh
		}
		mu.Lock()
		logOut = out
		mu.Unlock()
		log.SetOutput(out)
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "debugger"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch strings.TrimSpace(logcmd) {
		case "debugger":
			debugger = true
		case "registry":
			registry = true
		case "rpc":
			rpc = true
		case "wire":
			wire = true
		case "target":
			target = true
		case "agent":
			agent = true
		case "dap":
			dap = true
		default:
			return fmt.Errorf("unknown log component %q", logcmd)
		}
	}
	return nil
}

// Close closes the logger output, if it was redirected by Setup.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logOut != nil {
		logOut.Close()
		logOut = nil
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder
	b.WriteString(entry.Time.Format("2006-01-02T15:04:05.000Z07:00"))
	b.WriteByte(' ')
	b.WriteString(entry.Level.String())
	b.WriteByte(' ')
	if layer, ok := entry.Data["layer"]; ok {
		fmt.Fprintf(&b, "%v ", layer)
	}
	b.WriteString(entry.Message)
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k != "layer" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}
