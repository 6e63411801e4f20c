// Package compileinfo reports which build of a binary is running, read from
// the module and VCS stamps the Go toolchain embeds.
package compileinfo

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"
)

type CompileInfo struct {
	Binary        string
	ModuleVersion string
	GoVersion     string
	Commit        string
	CommitTime    string
	Modified      bool
}

func (c CompileInfo) String() string {
	if c.Binary == "" {
		return "Build information is unavailable for this binary."
	}

	var out strings.Builder
	fmt.Fprintf(&out, "This %s binary (%s) was built with %s", c.Binary, c.ModuleVersion, c.GoVersion)
	if c.Commit != "" {
		fmt.Fprintf(&out, " at commit %s at time %s", c.Commit, c.CommitTime)
	}
	out.WriteString(".")
	if c.Modified {
		out.WriteString(" Files in the repo were modified after that commit.")
	}

	return out.String()
}

func Get() CompileInfo {
	z, ok := debug.ReadBuildInfo()
	if !ok {
		return CompileInfo{}
	}

	return fromBuildInfo(z)
}

func fromBuildInfo(z *debug.BuildInfo) CompileInfo {
	out := CompileInfo{
		Binary:        z.Path,
		ModuleVersion: z.Main.Version,
		GoVersion:     z.GoVersion,
	}

	if i := strings.LastIndex(out.Binary, "/"); i >= 0 {
		out.Binary = out.Binary[i+1:]
	}

	for _, s := range z.Settings {
		switch s.Key {
		case "vcs.revision":
			out.Commit = s.Value
		case "vcs.time":
			out.CommitTime = s.Value
		case "vcs.modified":
			out.Modified = s.Value == "true"
		}
	}

	return out
}

// Fprint writes the build line to w.
func Fprint(w io.Writer) {
	fmt.Fprintln(w, Get())
}

func PrintToStdErr() {
	Fprint(os.Stderr)
}
