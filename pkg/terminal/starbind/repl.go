package starbind

// Code in this file is derived from go.starlark.net/repl/repl.go
// Which is licensed under the following copyright:
//
// Copyright (c) 2017 The Bazel Authors.  All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are
// met:
//
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the
//    distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
//    contributors may be used to endorse or promote products derived
//    from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS
// "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT
// LIMITED TO, THE IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR
// A PARTICULAR PURPOSE ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT
// HOLDER OR CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT
// LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR SERVICES; LOSS OF USE,
// DATA, OR PROFITS; OR BUSINESS INTERRUPTION) HOWEVER CAUSED AND ON ANY
// THEORY OF LIABILITY, WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT
// (INCLUDING NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH DAMAGE.

import (
	"errors"
	"fmt"
	"io"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/go-delve/liner"

	"github.com/go-delve/rdbg/pkg/logflags"
)

const (
	replPrompt     = "star> "
	replContinue   = "  ... "
	replExitSymbol = "exit"
)

// lineReader is the part of *liner.State the REPL uses.
type lineReader interface {
	Prompt(string) (string, error)
	AppendHistory(string)
}

// REPL reads starlark statements from the terminal and evaluates them
// until the user types exit or closes the input. Globals whose name
// starts with a capital letter are exported to later scripts, and
// command_ functions become terminal commands.
func (env *Env) REPL() error {
	rl := liner.NewLiner()
	defer rl.Close()
	return env.repl(rl)
}

func (env *Env) repl(rl lineReader) error {
	thread := env.newThread()
	globals := make(starlark.StringDict, len(env.env))
	for k, v := range env.env {
		globals[k] = v
	}

	for {
		if err := isCancelled(thread); err != nil {
			return err
		}
		err := env.evalNext(rl, thread, globals)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	fmt.Fprintln(env.out)
	return env.exportGlobals(globals)
}

// evalNext reads one compound statement and evaluates it. Only read
// failures are returned; starlark errors are shown to the user.
func (env *Env) evalNext(rl lineReader, thread *starlark.Thread, globals starlark.StringDict) error {
	defer env.out.Flush()

	var readErr error
	prompt := replPrompt
	readline := func() ([]byte, error) {
		line, err := rl.Prompt(prompt)
		env.out.Echo(prompt + line)
		if line == replExitSymbol {
			readErr = io.EOF
			return nil, io.EOF
		}
		if err != nil {
			readErr = err
			return nil, err
		}
		rl.AppendHistory(line)
		prompt = replContinue
		return []byte(line + "\n"), nil
	}

	f, err := syntax.ParseCompoundStmt("<repl>", readline)
	if err != nil {
		if readErr != nil {
			return readErr
		}
		env.replError(err)
		return nil
	}

	if expr := soleExpr(f); expr != nil {
		v, err := starlark.EvalExpr(thread, expr, globals)
		if err != nil {
			env.replError(err)
			return nil
		}
		if v != starlark.None {
			fmt.Fprintln(env.out, describe(v))
		}
		return nil
	}

	prog, err := starlark.FileProgram(f, globals.Has)
	if err != nil {
		env.replError(err)
		return nil
	}
	// globals are left unfrozen
	res, err := prog.Init(thread, globals)
	if err != nil {
		env.replError(err)
	}
	for k, v := range res {
		globals[k] = v
	}
	return nil
}

func soleExpr(f *syntax.File) syntax.Expr {
	if len(f.Stmts) == 1 {
		if stmt, ok := f.Stmts[0].(*syntax.ExprStmt); ok {
			return stmt.X
		}
	}
	return nil
}

// replError shows err, with its starlark backtrace when there is one, and
// logs it to the debugger log.
func (env *Env) replError(err error) {
	msg := err.Error()
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		msg = evalErr.Backtrace()
	}
	logflags.DebuggerLogger().WithField("component", "starlark").Debugf("repl: %v", err)
	fmt.Fprintln(env.out, msg)
}
