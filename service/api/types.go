package api

import (
	"fmt"
	"strings"
)

// LocationKind selects which fields of a LocationSpec are meaningful.
type LocationKind uint8

const (
	// FileLineLocation is a source position, File and Line are set.
	FileLineLocation LocationKind = iota + 1
	// FunctionLocation is the entry of a function, optionally followed by a
	// line offset.
	FunctionLocation
	// AddressLocation is a raw code address.
	AddressLocation
)

func (k LocationKind) String() string {
	switch k {
	case FileLineLocation:
		return "file:line"
	case FunctionLocation:
		return "function"
	case AddressLocation:
		return "address"
	default:
		return fmt.Sprintf("LocationKind(%d)", uint8(k))
	}
}

// LocationSpec is a breakpoint request as the user expressed it, before it
// is resolved to concrete addresses.
type LocationSpec struct {
	Kind LocationKind `json:"kind"`
	// File and Line are used by FileLineLocation.
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
	// Function and Offset are used by FunctionLocation. Offset is counted in
	// lines from the first line of the function.
	Function string `json:"function,omitempty"`
	Offset   int    `json:"offset,omitempty"`
	// Addr is used by AddressLocation.
	Addr uint64 `json:"addr,omitempty"`
	// Cond is an optional condition evaluated by the agent.
	Cond string `json:"cond,omitempty"`
}

func (s LocationSpec) String() string {
	switch s.Kind {
	case FileLineLocation:
		return fmt.Sprintf("%s:%d", s.File, s.Line)
	case FunctionLocation:
		if s.Offset > 0 {
			return fmt.Sprintf("%s+%d", s.Function, s.Offset)
		}
		return s.Function
	case AddressLocation:
		return fmt.Sprintf("*%#x", s.Addr)
	default:
		return "<invalid location>"
	}
}

// Location is a concrete address a breakpoint was bound to.
type Location struct {
	// ID identifies the location among the locations of one breakpoint.
	ID       int    `json:"id"`
	PC       uint64 `json:"pc"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
}

func (l Location) String() string {
	if l.File == "" {
		return fmt.Sprintf("%#x", l.PC)
	}
	if l.Function == "" {
		return fmt.Sprintf("%#x %s:%d", l.PC, l.File, l.Line)
	}
	return fmt.Sprintf("%#x %s:%d (%s)", l.PC, l.File, l.Line, l.Function)
}

// AccessKind is the kind of memory access a watchpoint observes.
type AccessKind uint8

const (
	AccessRead AccessKind = 1 << iota
	AccessWrite

	AccessReadWrite = AccessRead | AccessWrite
)

func (k AccessKind) String() string {
	switch k {
	case AccessRead:
		return "r"
	case AccessWrite:
		return "w"
	case AccessReadWrite:
		return "rw"
	default:
		return fmt.Sprintf("AccessKind(%d)", uint8(k))
	}
}

// ParseAccessKind parses the "r", "w" and "rw" notation used on the
// command line.
func ParseAccessKind(s string) (AccessKind, error) {
	switch strings.ToLower(s) {
	case "r", "read":
		return AccessRead, nil
	case "w", "write":
		return AccessWrite, nil
	case "rw", "wr", "readwrite":
		return AccessReadWrite, nil
	}
	return 0, fmt.Errorf("invalid access kind %q, expected r, w or rw", s)
}

// AddrRange is the half open memory range [Addr, Addr+Size).
type AddrRange struct {
	Addr uint64 `json:"addr"`
	Size uint64 `json:"size"`
}

// End returns the first address after the range.
func (r AddrRange) End() uint64 {
	return r.Addr + r.Size
}

func (r AddrRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Addr, r.End())
}

// BindResult is returned by the agent when it accepts a breakpoint.
type BindResult struct {
	// ID is the handle assigned by the agent, used to clear the breakpoint
	// or query its locations later.
	ID        int        `json:"id"`
	Locations []Location `json:"locations"`
}

// BindErrorCode classifies why the agent could not place a breakpoint or
// watchpoint.
type BindErrorCode uint8

const (
	BindErrUnknown BindErrorCode = iota
	BindErrNotSupported
	BindErrNoFunctionFound
	BindErrNoFunctionLocation
	BindErrPositionNotAvailable
	BindErrInvalidAddress
	BindErrNoWatchSlots
	BindErrInvalidWatchSize
)

var bindErrorMessages = [...]string{
	BindErrUnknown:              "Unable to bind breakpoint.",
	BindErrNotSupported:         "Breakpoint type is not supported.",
	BindErrNoFunctionFound:      "Unable to retrieve function information.",
	BindErrNoFunctionLocation:   "Unable to find a valid address to bind breakpoint.",
	BindErrPositionNotAvailable: "Unable to set breakpoint for the specified position.",
	BindErrInvalidAddress:       "Unable to retrieve code address.",
	BindErrNoWatchSlots:         "No hardware watchpoint slots available.",
	BindErrInvalidWatchSize:     "Watchpoint size must be 1, 2, 4 or 8 bytes.",
}

// Message returns the user visible description of c.
func (c BindErrorCode) Message() string {
	if int(c) < len(bindErrorMessages) {
		return bindErrorMessages[c]
	}
	return bindErrorMessages[BindErrUnknown]
}

// BindError is the expected failure of a legitimate bind attempt, for
// example a symbol that does not exist in the target.
type BindError struct {
	Code BindErrorCode `json:"code"`
	Msg  string        `json:"msg,omitempty"`
}

func (err *BindError) Error() string {
	if err.Msg != "" {
		return err.Msg
	}
	return err.Code.Message()
}

// EventKind is the kind of an asynchronous event reported by the agent.
type EventKind uint8

const (
	// ModuleLoaded is sent when a module was loaded in the target and
	// symbolic breakpoints may resolve to new locations.
	ModuleLoaded EventKind = iota + 1
	// BreakpointFailed is sent when a placed breakpoint stops working, for
	// example because its module was unloaded.
	BreakpointFailed
)

func (k EventKind) String() string {
	switch k {
	case ModuleLoaded:
		return "module-loaded"
	case BreakpointFailed:
		return "breakpoint-failed"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// TargetEvent is an asynchronous notification from the agent.
type TargetEvent struct {
	Kind EventKind `json:"kind"`
	// Module is set for ModuleLoaded.
	Module string `json:"module,omitempty"`
	// BreakpointID is the agent handle of the breakpoint, set for
	// BreakpointFailed.
	BreakpointID int    `json:"breakpointID,omitempty"`
	Msg          string `json:"msg,omitempty"`
}
