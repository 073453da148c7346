package logflags

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func resetFlags() {
	debugger, registry, rpc, wire, target, agent, dap = false, false, false, false, false, false, false
	Close()
}

func TestSetupWithoutLog(t *testing.T) {
	defer resetFlags()
	if err := Setup(false, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Setup(false, "rpc", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected %v, got %v", errLogstrWithoutLog, err)
	}
}

func TestSetupComponents(t *testing.T) {
	defer resetFlags()
	if err := Setup(true, "registry, rpc,wire", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Registry() || !RPC() || !Wire() {
		t.Fatalf("expected registry, rpc and wire to be enabled")
	}
	if Debugger() || Target() || Agent() || DAP() {
		t.Fatalf("unexpected component enabled")
	}
	if err := Setup(true, "bogus", ""); err == nil {
		t.Fatalf("expected error for unknown component")
	}
}

func TestSetupDefaultsToDebugger(t *testing.T) {
	defer resetFlags()
	if err := Setup(true, "", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !Debugger() {
		t.Fatalf("expected debugger logging to be enabled")
	}
}

func TestMakeLoggerLevel(t *testing.T) {
	defer resetFlags()
	l := makeLogger(false, logrus.Fields{"layer": "x"})
	if l.Logger.Level != logrus.ErrorLevel {
		t.Fatalf("expected ErrorLevel, got %v", l.Logger.Level)
	}
	l = makeLogger(true, logrus.Fields{"layer": "x"})
	if l.Logger.Level != logrus.DebugLevel {
		t.Fatalf("expected DebugLevel, got %v", l.Logger.Level)
	}
	if l.Data["layer"] != "x" {
		t.Fatalf("expected layer field, got %v", l.Data)
	}
}

func TestLogDest(t *testing.T) {
	defer resetFlags()
	dest := filepath.Join(t.TempDir(), "rdbg.log")
	if err := Setup(true, "registry", dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	RegistryLogger().WithField("id", 3).Debugf("bound")
	Close()

	buf, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	out := string(buf)
	if !strings.Contains(out, "registry bound id=3") {
		t.Fatalf("unexpected log output %q", out)
	}
}
