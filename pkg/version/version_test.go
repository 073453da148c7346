package version

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestVersionString(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "rc1", Build: "abcdef"}
	if got := v.String(); got != "Version: 1.2.3-rc1\nBuild: abcdef" {
		t.Fatalf("unexpected version string %q", got)
	}
	if !strings.HasPrefix(RdbgVersion.String(), "Version: 0.3.0\n") {
		t.Fatalf("unexpected version string %q", RdbgVersion.String())
	}
}

func TestFormatBuildInfo(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/go-delve/rdbg"},
		Deps: []*debug.Module{
			{Path: "github.com/sirupsen/logrus", Version: "v1.9.0"},
			{Path: "github.com/go-delve/liner", Version: "v1.2.3-0.20220127212407-d32d89dd2a5d"},
			{Path: "go.starlark.net", Version: "v0.0.0", Replace: &debug.Module{Path: "../starlark"}},
		},
		Settings: []debug.BuildSetting{
			{Key: "-trimpath", Value: "true"},
			{Key: "vcs.revision", Value: "0123abc"},
			{Key: "GOOS", Value: "linux"},
		},
	}
	lines := strings.Split(strings.TrimSuffix(formatBuildInfo(info), "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("unexpected output:\n%s", strings.Join(lines, "\n"))
	}
	for i, want := range []string{
		"module github.com/go-delve/rdbg",
		"build  GOOS",
		"build  vcs.revision",
		"dep    github.com/go-delve/liner",
		"dep    github.com/sirupsen/logrus",
		"dep    go.starlark.net",
	} {
		if !strings.HasPrefix(lines[i], want) {
			t.Errorf("line %d: %q does not start with %q", i, lines[i], want)
		}
	}
	if !strings.Contains(lines[0], "(devel)") {
		t.Errorf("missing devel version: %q", lines[0])
	}
	if !strings.HasSuffix(lines[5], "=> ../starlark (devel)") {
		t.Errorf("replacement not shown: %q", lines[5])
	}
}
