// Package terminal implements functions for responding to user
// input and dispatching to the debugger session.
package terminal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/go-delve/rdbg/pkg/breakpoints"
	"github.com/go-delve/rdbg/service/api"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the rdbg terminal.
type Commands struct {
	cmds []command
	// completions indexes every alias for tab completion.
	completions *trie.Trie
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b"}, group: breakCmds, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break <locspec> [if <condition>]

Locations are one of:

	<filename>:<line>
	<function>[+<offset>]
	{<function>, , } +<offset>
	*<address>

A breakpoint whose location can not be resolved yet stays pending and is
bound when the module defining it is loaded.`},
		{aliases: []string{"clear"}, group: breakCmds, cmdFn: clear, helpMsg: `Deletes breakpoint.

	clear <breakpoint id>`},
		{aliases: []string{"clearall"}, group: breakCmds, cmdFn: clearAll, helpMsg: `Deletes all breakpoints, including the ones that were never bound.

	clearall`},
		{aliases: []string{"toggle"}, group: breakCmds, cmdFn: toggle, helpMsg: `Toggles on or off a breakpoint or a watchpoint.

	toggle <id>

A disabled breakpoint keeps its identifier and its locations. Toggling a
shared watchpoint affects every reference to it.`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpointsCmd, helpMsg: `Print out info for active breakpoints.

	breakpoints`},
		{aliases: []string{"refresh"}, group: sessionCmds, cmdFn: refresh, helpMsg: `Binds pending breakpoints and updates the locations of bound ones.

	refresh`},
		{aliases: []string{"watch"}, group: watchCmds, cmdFn: watch, helpMsg: `Set watchpoint.

	watch [-r|-w|-rw] <address> <size>

Watches size bytes (1, 2, 4 or 8) starting at address. The default is
-rw. Watching a range that is already watched for the same kind of access
shares the existing watchpoint.`},
		{aliases: []string{"unwatch"}, group: watchCmds, cmdFn: unwatch, helpMsg: `Drops a reference to a watchpoint.

	unwatch <watchpoint id>

The watchpoint is cleared on the target when its last reference is dropped.`},
		{aliases: []string{"watchpoints", "wp"}, group: watchCmds, cmdFn: watchpointsCmd, helpMsg: `Print out info for active watchpoints.

	watchpoints`},
		{aliases: []string{"status"}, group: sessionCmds, cmdFn: status, helpMsg: `Prints the session status.

	status`},
		{aliases: []string{"source"}, group: sessionCmds, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of terminal commands or a starlark script.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark
script. If path is a single '-' character an interactive starlark
interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, group: sessionCmds, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript <output file>
	transcript -off

Output of rdbg's command is appended to the specified output file. Use
-off to close the transcript file.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit the debugger, clearing every breakpoint and watchpoint.

	exit`},
	}

	c.rebuildCompletions()
	return c
}

func (c *Commands) rebuildCompletions() {
	c.completions = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.completions.Add(alias, nil)
		}
	}
}

// Complete returns the command names starting with prefix.
func (c *Commands) Complete(prefix string) []string {
	r := c.completions.PrefixSearch(strings.ToLower(prefix))
	sort.Strings(r)
	return r
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.completions.Add(cmdstr, nil)
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
	c.rebuildCompletions()
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			for _, alias := range cmd.aliases {
				if alias == args {
					fmt.Fprintln(t.stdout, cmd.helpMsg)
					return nil
				}
			}
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.inGroup(cgd.group) {
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// ExitRequestError is returned when the user
// exits the terminal.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func breakpoint(t *Term, args string) error {
	if args == "" {
		return fmt.Errorf("not enough arguments")
	}
	bp, err := t.d.CreateBreakpoint(args)
	if bp == nil {
		return err
	}
	switch bp.State() {
	case breakpoints.Bound:
		locs := bp.Locations()
		fmt.Fprintf(t.stdout, "%s set at %s\n", formatBreakpointName(bp), formatLocation(locs[0]))
		for _, loc := range locs[1:] {
			fmt.Fprintf(t.stdout, "\tand at %s\n", formatLocation(loc))
		}
	case breakpoints.Error:
		fmt.Fprintf(t.stdout, "%s pending at %s: %v\n", formatBreakpointName(bp), bp.Request(), bp.Err())
	}
	return err
}

func clear(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("not enough arguments")
	}
	id, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("invalid breakpoint id %q", args)
	}
	bp, err := t.d.ClearBreakpoint(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s cleared at %s\n", formatBreakpointName(bp), bp.Request())
	return nil
}

func toggle(t *Term, args string) error {
	if args == "" {
		return fmt.Errorf("not enough arguments")
	}
	id, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("invalid id %q", args)
	}
	if bp, ferr := t.d.FindBreakpoint(id); ferr == nil {
		enabled := !bp.Enabled()
		if _, err := t.d.EnableBreakpoint(id, enabled); err != nil {
			return err
		}
		fmt.Fprintf(t.stdout, "%s %s\n", formatBreakpointName(bp), onOff(enabled))
		return nil
	}
	w, err := t.d.FindWatchpoint(id)
	if err != nil {
		return fmt.Errorf("no breakpoint or watchpoint with id %d", id)
	}
	enabled := !w.Enabled()
	if _, err := t.d.EnableWatchpoint(id, enabled); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s %s\n", formatWatchpointName(w), onOff(enabled))
	return nil
}

func onOff(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}

func clearAll(t *Term, args string) error {
	for _, bp := range t.d.Breakpoints() {
		if err := t.d.RemoveBreakpoint(bp); err != nil {
			fmt.Fprintf(t.stdout, "Couldn't delete %s at %s: %s\n", formatBreakpointName(bp), bp.Request(), err)
			continue
		}
		fmt.Fprintf(t.stdout, "%s cleared at %s\n", formatBreakpointName(bp), bp.Request())
	}
	return nil
}

func breakpointsCmd(t *Term, args string) error {
	for _, bp := range t.d.Breakpoints() {
		state := t.colorize(bp.State().String(), stateColor(bp.State()))
		if !bp.Enabled() {
			state += ", " + t.colorize("disabled", ansiYellow)
		}
		fmt.Fprintf(t.stdout, "%s (%s) at %s\n", formatBreakpointName(bp), state, bp.Request())
		if err := bp.Err(); err != nil {
			fmt.Fprintf(t.stdout, "\terror: %v\n", err)
		}
		for _, loc := range bp.Locations() {
			fmt.Fprintf(t.stdout, "\t%s\n", formatLocation(loc))
		}
	}
	return nil
}

func refresh(t *Term, args string) error {
	err := t.d.RefreshBreakpoints()
	pending, bound := t.d.Counts()
	fmt.Fprintf(t.stdout, "%d breakpoints, %d locations bound\n", pending, bound)
	return err
}

func watch(t *Term, args string) error {
	v, err := argv.Argv(args, func(s string) (string, error) {
		return "", fmt.Errorf("backtick not supported in '%s'", s)
	}, nil)
	if err != nil {
		return err
	}
	if len(v) != 1 {
		return fmt.Errorf("invalid watch arguments")
	}
	words := v[0]
	kind := api.AccessReadWrite
	if len(words) > 0 && strings.HasPrefix(words[0], "-") {
		kind, err = api.ParseAccessKind(words[0][1:])
		if err != nil {
			return err
		}
		words = words[1:]
	}
	if len(words) != 2 {
		return fmt.Errorf("wrong number of arguments: watch [-r|-w|-rw] <address> <size>")
	}
	addr, err := strconv.ParseUint(words[0], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q: %v", words[0], err)
	}
	size, err := strconv.ParseUint(words[1], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid size %q: %v", words[1], err)
	}
	w, err := t.d.CreateWatchpoint(api.AddrRange{Addr: addr, Size: size}, kind)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "%s set on %s (%s)\n", formatWatchpointName(w), w.Range, w.Kind)
	return nil
}

func unwatch(t *Term, args string) error {
	id, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("invalid watchpoint id %q", args)
	}
	if err := t.d.ClearWatchpoint(id); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Watchpoint %d released\n", id)
	return nil
}

func watchpointsCmd(t *Term, args string) error {
	for _, w := range t.d.Watchpoints() {
		fmt.Fprintf(t.stdout, "%s on %s (%s), %d references", formatWatchpointName(w), w.Range, w.Kind, t.d.WatchpointRefCount(w))
		if !w.Enabled() {
			fmt.Fprint(t.stdout, ", disabled")
		}
		fmt.Fprintln(t.stdout)
	}
	return nil
}

func status(t *Term, args string) error {
	pending, bound := t.d.Counts()
	fmt.Fprintf(t.stdout, "Session %s\n", t.d.ID())
	fmt.Fprintf(t.stdout, "Breakpoints: %d (%d locations bound)\n", pending, bound)
	fmt.Fprintf(t.stdout, "Watchpoints: %d\n", len(t.d.Watchpoints()))
	failed := t.d.FailedCalls()
	ops := make([]string, 0, len(failed))
	for op := range failed {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	for _, op := range ops {
		fmt.Fprintf(t.stdout, "Failed %s calls: %d\n", op, failed[op])
	}
	return nil
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	if strings.HasSuffix(args, ".star") {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	return c.executeFile(t, args)
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}

func stateColor(s breakpoints.State) int {
	switch s {
	case breakpoints.Bound:
		return ansiGreen
	case breakpoints.Error:
		return ansiRed
	}
	return ansiYellow
}

func transcript(t *Term, args string) error {
	switch args {
	case "":
		return fmt.Errorf("not enough arguments")
	case "-off":
		return t.stdout.CloseTranscript()
	}
	fh, err := os.Create(args)
	if err != nil {
		return err
	}
	t.stdout.TranscribeTo(fh)
	return nil
}

func formatBreakpointName(bp *breakpoints.PendingBreakpoint) string {
	if id := bp.ID(); id != 0 {
		return fmt.Sprintf("Breakpoint %d", id)
	}
	return "Breakpoint"
}

func formatWatchpointName(w *breakpoints.Watchpoint) string {
	return fmt.Sprintf("Watchpoint %d", w.ID())
}

func formatLocation(loc api.Location) string {
	if loc.Function == "" && loc.File == "" {
		return fmt.Sprintf("%#x", loc.PC)
	}
	return fmt.Sprintf("%#x for %s() %s:%d", loc.PC, loc.Function, loc.File, loc.Line)
}
