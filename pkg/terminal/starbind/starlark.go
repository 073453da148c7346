package starbind

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/go-delve/rdbg/service/api"
	"github.com/go-delve/rdbg/service/debugger"
)

const (
	commandBuiltinName          = "rdbg_command"
	readFileBuiltinName         = "read_file"
	writeFileBuiltinName        = "write_file"
	createBreakpointBuiltinName = "create_breakpoint"
	clearBreakpointBuiltinName  = "clear_breakpoint"
	enableBreakpointBuiltinName = "enable_breakpoint"
	breakpointsBuiltinName      = "breakpoints"
	createWatchpointBuiltinName = "create_watchpoint"
	clearWatchpointBuiltinName  = "clear_watchpoint"
	enableWatchpointBuiltinName = "enable_watchpoint"
	watchpointsBuiltinName      = "watchpoints"
	countsBuiltinName           = "counts"
	commandPrefix               = "command_"
	rdbgContextName             = "rdbg_context"
	helpBuiltinName             = "help"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
type Context interface {
	Debugger() *debugger.Debugger
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	ctx Context
	out EchoWriter
}

type builtinFn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// New creates a new starlark binding environment.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{
		env: starlark.StringDict{},
		doc: map[string]string{},
		ctx: ctx,
		out: out,
	}

	// Make the "time" module available to Starlark scripts.
	starlark.Universe["time"] = startime.Module

	env.builtin(commandBuiltinName, "(Command)", "runs a terminal command.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if err := isCancelled(thread); err != nil {
			return starlark.None, err
		}
		argstrs := make([]string, len(args))
		for i := range args {
			a, ok := args[i].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("argument of %s is not a string", commandBuiltinName)
			}
			argstrs[i] = string(a)
		}
		err := env.ctx.CallCommand(strings.Join(argstrs, " "))
		return starlark.None, decorateError(thread, err)
	})

	env.builtin(readFileBuiltinName, "(Path)", "reads a file.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackArgs(readFileBuiltinName, args, kwargs, "Path", &path); err != nil {
			return nil, decorateError(thread, err)
		}
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.String(string(buf)), nil
	})

	env.builtin(writeFileBuiltinName, "(Path, Text)", "writes text to the specified file.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		if len(args) != 2 {
			return nil, decorateError(thread, fmt.Errorf("wrong number of arguments"))
		}
		path, ok := args[0].(starlark.String)
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("first argument of write_file was not a string"))
		}
		err := os.WriteFile(string(path), []byte(args[1].String()), 0640)
		return starlark.None, decorateError(thread, err)
	})

	env.builtin(createBreakpointBuiltinName, "(Loc)", "sets a breakpoint and returns it.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var loc string
		if err := starlark.UnpackArgs(createBreakpointBuiltinName, args, kwargs, "Loc", &loc); err != nil {
			return nil, decorateError(thread, err)
		}
		bp, err := env.ctx.Debugger().CreateBreakpoint(loc)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return breakpointValue(bp), nil
	})

	env.builtin(clearBreakpointBuiltinName, "(ID)", "clears a breakpoint.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var id int
		if err := starlark.UnpackArgs(clearBreakpointBuiltinName, args, kwargs, "ID", &id); err != nil {
			return nil, decorateError(thread, err)
		}
		_, err := env.ctx.Debugger().ClearBreakpoint(id)
		return starlark.None, decorateError(thread, err)
	})

	env.builtin(enableBreakpointBuiltinName, "(ID, Enabled)", "arms or disarms a breakpoint and returns it.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			id      int
			enabled bool
		)
		if err := starlark.UnpackArgs(enableBreakpointBuiltinName, args, kwargs, "ID", &id, "Enabled", &enabled); err != nil {
			return nil, decorateError(thread, err)
		}
		bp, err := env.ctx.Debugger().EnableBreakpoint(id, enabled)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return breakpointValue(bp), nil
	})

	env.builtin(breakpointsBuiltinName, "()", "returns the list of breakpoints.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		bps := env.ctx.Debugger().Breakpoints()
		r := make([]starlark.Value, len(bps))
		for i, bp := range bps {
			r[i] = breakpointValue(bp)
		}
		return starlark.NewList(r), nil
	})

	env.builtin(createWatchpointBuiltinName, "(Addr, Size, Kind)", `watches Size bytes at Addr. Kind is "r", "w" or "rw", the default.`, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			addr starlark.Int
			size int
			kind = "rw"
		)
		if err := starlark.UnpackArgs(createWatchpointBuiltinName, args, kwargs, "Addr", &addr, "Size", &size, "Kind?", &kind); err != nil {
			return nil, decorateError(thread, err)
		}
		a, ok := addr.Uint64()
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("address out of range: %v", addr))
		}
		k, err := api.ParseAccessKind(kind)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		w, err := env.ctx.Debugger().CreateWatchpoint(api.AddrRange{Addr: a, Size: uint64(size)}, k)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return watchpointValue(w), nil
	})

	env.builtin(clearWatchpointBuiltinName, "(ID)", "drops a reference to a watchpoint.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var id int
		if err := starlark.UnpackArgs(clearWatchpointBuiltinName, args, kwargs, "ID", &id); err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.None, decorateError(thread, env.ctx.Debugger().ClearWatchpoint(id))
	})

	env.builtin(enableWatchpointBuiltinName, "(ID, Enabled)", "arms or disarms a watchpoint for every request sharing it.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var (
			id      int
			enabled bool
		)
		if err := starlark.UnpackArgs(enableWatchpointBuiltinName, args, kwargs, "ID", &id, "Enabled", &enabled); err != nil {
			return nil, decorateError(thread, err)
		}
		w, err := env.ctx.Debugger().EnableWatchpoint(id, enabled)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return watchpointValue(w), nil
	})

	env.builtin(watchpointsBuiltinName, "()", "returns the list of watchpoints.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		ws := env.ctx.Debugger().Watchpoints()
		r := make([]starlark.Value, len(ws))
		for i, w := range ws {
			r[i] = watchpointValue(w)
		}
		return starlark.NewList(r), nil
	})

	env.builtin(countsBuiltinName, "()", "returns the number of breakpoints and of bound locations.", func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		pending, bound := env.ctx.Debugger().Counts()
		return newDict(map[string]starlark.Value{
			"Pending": starlark.MakeInt(pending),
			"Bound":   starlark.MakeInt(bound),
		}), nil
	})

	env.builtin(helpBuiltinName, "(Object)", "prints help for Object.", func(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		switch len(args) {
		case 0:
			fmt.Fprintln(env.out, "Available builtins:")
			bins := make([]string, 0, len(env.env))
			for name, value := range env.env {
				switch value.(type) {
				case *starlark.Builtin:
					bins = append(bins, name)
				}
			}
			sort.Strings(bins)
			for _, bin := range bins {
				fmt.Fprintf(env.out, "\t%s\n", bin)
			}
		case 1:
			switch x := args[0].(type) {
			case *starlark.Builtin:
				if env.doc[x.Name()] != "" {
					fmt.Fprintf(env.out, "%s\n", env.doc[x.Name()])
				} else {
					fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
				}
			case *starlark.Function:
				fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
				if doc := x.Doc(); doc != "" {
					fmt.Fprintln(env.out, doc)
				}
			default:
				fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
			}
		default:
			fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
		}
		return starlark.None, nil
	})

	return env
}

func (env *Env) builtin(name, args, descr string, fn builtinFn) {
	env.env[name] = starlark.NewBuiltin(name, fn)
	env.doc[name] = name + args + "\n\n" + name + " " + descr
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out EchoWriter) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it will be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	err = env.exportGlobals(globals)
	if err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_"
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			err := env.createCommand(name, val)
			if err != nil {
				return err
			}
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(rdbgContextName, ctx)
	return thread
}

func (env *Env) createCommand(name string, val starlark.Value) error {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return nil
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fnval.NumParams() == 1 {
		if p0, _ := fnval.Param(0); p0 == "args" {
			env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
				_, err := starlark.Call(env.newThread(), fnval, starlark.Tuple{starlark.String(args)}, nil)
				return err
			})
			return nil
		}
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		argval, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
		if err != nil {
			return err
		}
		argtuple, ok := argval.(starlark.Tuple)
		if !ok {
			argtuple = starlark.Tuple{argval}
		}
		_, err = starlark.Call(thread, fnval, argtuple, nil)
		return err
	})
	return nil
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []interface{}) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = toStarlarkValue(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func isCancelled(thread *starlark.Thread) error {
	if ctx, ok := thread.Local(rdbgContextName).(context.Context); ok {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}

type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}
