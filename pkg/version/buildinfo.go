package version

import (
	"bytes"
	"fmt"
	"runtime/debug"
	"sort"
	"text/tabwriter"
)

// reportedSettings are the build settings printed by BuildInfo, in order.
var reportedSettings = []string{"GOOS", "GOARCH", "CGO_ENABLED", "vcs.revision", "vcs.time", "vcs.modified"}

func moduleBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "rdbg was not built in module mode"
	}
	return formatBuildInfo(info)
}

// formatBuildInfo lists the main module, the reported build settings and
// the dependencies sorted by path, in aligned columns. A replaced
// dependency is followed by its replacement.
func formatBuildInfo(info *debug.BuildInfo) string {
	buf := new(bytes.Buffer)
	w := tabwriter.NewWriter(buf, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "module\t%s\t%s\n", info.Main.Path, orDevel(info.Main.Version))

	settings := make(map[string]string, len(info.Settings))
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	for _, k := range reportedSettings {
		if v := settings[k]; v != "" {
			fmt.Fprintf(w, "build\t%s\t%s\n", k, v)
		}
	}

	deps := make([]*debug.Module, len(info.Deps))
	copy(deps, info.Deps)
	sort.Slice(deps, func(i, j int) bool { return deps[i].Path < deps[j].Path })
	for _, dep := range deps {
		if dep.Replace != nil {
			fmt.Fprintf(w, "dep\t%s\t%s\t=> %s %s\n", dep.Path, dep.Version, dep.Replace.Path, orDevel(dep.Replace.Version))
			continue
		}
		fmt.Fprintf(w, "dep\t%s\t%s\n", dep.Path, dep.Version)
	}
	w.Flush()
	return buf.String()
}

func orDevel(v string) string {
	if v == "" {
		return "(devel)"
	}
	return v
}
