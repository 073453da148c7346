package locspec

import (
	"testing"

	"github.com/go-delve/rdbg/service/api"
)

func parseLocationSpecNoError(t *testing.T, locstr string) api.LocationSpec {
	t.Helper()
	spec, err := Parse(locstr)
	if err != nil {
		t.Fatalf("Error parsing %q: %v", locstr, err)
	}
	return spec
}

func assertLocationSpec(t *testing.T, locstr string, tgt api.LocationSpec) {
	t.Helper()
	spec := parseLocationSpecNoError(t, locstr)
	if spec != tgt {
		t.Fatalf("Location %q: expected\n%#v\ngot:\n%#v", locstr, tgt, spec)
	}
}

func TestFileLineParsing(t *testing.T) {
	assertLocationSpec(t, "main.go:10", api.LocationSpec{Kind: api.FileLineLocation, File: "main.go", Line: 10})
	assertLocationSpec(t, "/src/pkg/a.go:3", api.LocationSpec{Kind: api.FileLineLocation, File: "/src/pkg/a.go", Line: 3})
	assertLocationSpec(t, `C:\src\a.go:7`, api.LocationSpec{Kind: api.FileLineLocation, File: `C:\src\a.go`, Line: 7})
	assertLocationSpec(t, "main.go:10 if i > 2", api.LocationSpec{Kind: api.FileLineLocation, File: "main.go", Line: 10, Cond: "i > 2"})
}

func TestFunctionLocationParsing(t *testing.T) {
	assertLocationSpec(t, "main.main", api.LocationSpec{Kind: api.FunctionLocation, Function: "main.main"})
	assertLocationSpec(t, "ns::Foo::bar", api.LocationSpec{Kind: api.FunctionLocation, Function: "ns::Foo::bar"})
	assertLocationSpec(t, "main.loop+3", api.LocationSpec{Kind: api.FunctionLocation, Function: "main.loop", Offset: 3})
	assertLocationSpec(t, " { testFunctionName , , } + 10 ", api.LocationSpec{Kind: api.FunctionLocation, Function: "testFunctionName", Offset: 10})
	assertLocationSpec(t, "{f, , }", api.LocationSpec{Kind: api.FunctionLocation, Function: "f"})
	assertLocationSpec(t, "{f,,}5", api.LocationSpec{Kind: api.FunctionLocation, Function: "f", Offset: 5})
}

func TestAddressParsing(t *testing.T) {
	assertLocationSpec(t, "*0x401000", api.LocationSpec{Kind: api.AddressLocation, Addr: 0x401000})
	assertLocationSpec(t, "*4096", api.LocationSpec{Kind: api.AddressLocation, Addr: 4096})
}

func TestMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"   ",
		"main.go:abc",
		"main.go:-1",
		":12",
		"*",
		"*zz",
		"{f, m, } +1",
		"{f, , ",
		"main.loop+x",
		"main.go:1 if ",
	} {
		if _, err := Parse(s); err == nil {
			t.Errorf("expected error parsing %q", s)
		}
	}
}
