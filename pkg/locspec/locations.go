package locspec

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-delve/rdbg/service/api"
)

// funcOffsetRx matches "{name, , } +N". The module part of the context
// operator is accepted but must be empty.
var funcOffsetRx = regexp.MustCompile(`^\s*{\s*(?P<name>[a-zA-Z_][a-zA-Z0-9_:.]*)\s*,\s*,\s*}\s*\+?\s*(?P<offset>\d+)?\s*$`)

// Parse will turn locStr into a LocationSpec.
func Parse(locStr string) (api.LocationSpec, error) {
	rest := strings.TrimSpace(locStr)

	malformed := func(reason string) error {
		//lint:ignore ST1005 backwards compatibility
		return fmt.Errorf("Malformed breakpoint location \"%s\" at %d: %s", locStr, len(locStr)-len(rest), reason)
	}

	if len(rest) <= 0 {
		return api.LocationSpec{}, malformed("empty string")
	}

	var cond string
	if i := strings.Index(rest, " if "); i >= 0 {
		cond = strings.TrimSpace(rest[i+len(" if "):])
		rest = strings.TrimSpace(rest[:i])
		if cond == "" {
			return api.LocationSpec{}, malformed("empty condition")
		}
	}

	var (
		spec api.LocationSpec
		err  error
	)
	switch rest[0] {
	case '*':
		spec, err = parseAddr(rest[1:])
	case '{':
		m := funcOffsetRx.FindStringSubmatch(rest)
		if m == nil {
			return api.LocationSpec{}, malformed("expected {function, , } [+offset]")
		}
		spec = api.LocationSpec{Kind: api.FunctionLocation, Function: m[1]}
		if m[2] != "" {
			spec.Offset, err = strconv.Atoi(m[2])
		}
	default:
		spec, err = parseLocationSpecDefault(rest)
	}
	if err != nil {
		return api.LocationSpec{}, malformed(err.Error())
	}
	spec.Cond = cond
	return spec, nil
}

func parseAddr(s string) (api.LocationSpec, error) {
	if s == "" {
		return api.LocationSpec{}, fmt.Errorf("missing address")
	}
	addr, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return api.LocationSpec{}, fmt.Errorf("invalid address: %v", err)
	}
	return api.LocationSpec{Kind: api.AddressLocation, Addr: addr}, nil
}

func parseLocationSpecDefault(rest string) (api.LocationSpec, error) {
	// Paths may contain ":", split only on the last one.
	if i := strings.LastIndex(rest, ":"); i >= 0 && !strings.HasSuffix(rest[:i], ":") {
		line, err := strconv.Atoi(rest[i+1:])
		if err != nil || line <= 0 {
			return api.LocationSpec{}, fmt.Errorf("line number negative or not a number")
		}
		if rest[:i] == "" {
			return api.LocationSpec{}, fmt.Errorf("missing file name")
		}
		return api.LocationSpec{Kind: api.FileLineLocation, File: rest[:i], Line: line}, nil
	}

	spec := api.LocationSpec{Kind: api.FunctionLocation, Function: rest}
	if i := strings.LastIndex(rest, "+"); i > 0 {
		off, err := strconv.Atoi(strings.TrimSpace(rest[i+1:]))
		if err != nil || off < 0 {
			return api.LocationSpec{}, fmt.Errorf("function offset negative or not a number")
		}
		spec.Function = strings.TrimSpace(rest[:i])
		spec.Offset = off
	}
	if spec.Function == "" {
		return api.LocationSpec{}, fmt.Errorf("missing function name")
	}
	return spec, nil
}
