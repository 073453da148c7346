package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-delve/liner"
	"github.com/sirupsen/logrus"

	"github.com/go-delve/rdbg/pkg/config"
	"github.com/go-delve/rdbg/pkg/logflags"
	"github.com/go-delve/rdbg/pkg/terminal/starbind"
	"github.com/go-delve/rdbg/service/debugger"
)

const historyFile string = ".dbg_history"

// Term represents the terminal running rdbg.
type Term struct {
	d        *debugger.Debugger
	conf     *config.Config
	log      *logrus.Entry
	prompt   string
	line     *liner.State
	cmds     *Commands
	colors   bool
	stdout   *transcriptWriter
	InitFile string

	starlarkEnv *starbind.Env
}

// New returns a new Term.
func New(d *debugger.Debugger, conf *config.Config) *Term {
	w, colors := getColorableWriter()
	if strings.ToLower(os.Getenv("TERM")) == "dumb" {
		w, colors = os.Stdout, false
	}
	return newTerm(d, conf, w, colors)
}

func newTerm(d *debugger.Debugger, conf *config.Config, w io.Writer, colors bool) *Term {
	cmds := DebugCommands()
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = (&config.Config{}).Defaults()
	}

	t := &Term{
		d:      d,
		conf:   conf,
		log:    logflags.DebuggerLogger(),
		prompt: "(rdbg) ",
		cmds:   cmds,
		colors: colors,
		stdout: &transcriptWriter{w: w},
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	if t.line != nil {
		t.line.Close()
	}
	t.stdout.CloseTranscript()
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
	}
}

// Run begins running rdbg in the terminal.
func (t *Term) Run() (int, error) {
	t.line = liner.NewLiner()
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.line.SetCompleter(func(line string) []string {
		return t.cmds.Complete(line)
	})

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}

	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}
	fmt.Fprintln(t.stdout, "Type 'help' for list of commands.")

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed: %v", err)
		}
		t.stdout.Echo(t.prompt + cmdstr + "\n")

		if err := t.cmds.Call(cmdstr, t); err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			t.printError(err)
		}
		t.stdout.Flush()
	}
}

// Call executes a single command line.
func (t *Term) Call(cmdstr string) error {
	return t.cmds.Call(cmdstr, t)
}

func (t *Term) printError(err error) {
	fmt.Fprintln(t.stdout, t.colorize(fmt.Sprintf("Command failed: %s", err), ansiRed))
}

func (t *Term) colorize(s string, color int) string {
	if !t.colors {
		return s
	}
	return fmt.Sprintf(terminalHighlightEscapeCode, color) + s + terminalResetEscapeCode
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt)
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}

	if err := t.d.Detach(); err != nil {
		t.log.Errorf("detach: %v", err)
		return 1, err
	}
	return 0, nil
}
