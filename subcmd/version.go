package subcmd

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/mengelbart/camrelay/cmdmain"
)

// mediaModules are the dependencies listed by `version`.
var mediaModules = []string{
	"github.com/go-gst/go-gst",
	"github.com/pion/rtp",
	"github.com/pion/rtcp",
	"github.com/pion/webrtc/v4",
	"github.com/quic-go/quic-go",
}

func init() {
	cmdmain.RegisterSubCmd("version", func() cmdmain.SubCmd { return newVersion() })
}

type Version struct {
	Path      string            `json:"path"`
	Version   string            `json:"version"`
	GitCommit string            `json:"gitCommit,omitempty"`
	GitDate   string            `json:"gitDate,omitempty"`
	GoVersion string            `json:"goVersion"`
	Modules   map[string]string `json:"modules,omitempty"`
}

func newVersion() *Version {
	v := &Version{
		Path:      "github.com/mengelbart/camrelay",
		Version:   "(devel)",
		GoVersion: runtime.Version(),
		Modules:   map[string]string{},
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return v
	}
	if info.Main.Path != "" {
		v.Path = info.Main.Path
	}
	if info.Main.Version != "" {
		v.Version = info.Main.Version
	}
	modified := false
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			v.GitCommit = setting.Value
		case "vcs.time":
			v.GitDate = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if modified {
		v.GitCommit += "+dirty"
	}
	for _, dep := range info.Deps {
		for _, m := range mediaModules {
			if dep.Path != m {
				continue
			}
			if dep.Replace != nil {
				v.Modules[m] = dep.Replace.Path + " " + dep.Replace.Version
			} else {
				v.Modules[m] = dep.Version
			}
		}
	}
	return v
}

// Exec implements cmdmain.SubCmd.
func (v *Version) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("version", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "Print version information as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Print version information

Usage:
	%s version [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	fmt.Fprint(os.Stdout, v.String())
	return nil
}

func (v *Version) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", v.Path)
	fmt.Fprintf(&b, "\tVersion:\t%s\n", v.Version)
	fmt.Fprintf(&b, "\tGit commit:\t%s\n", v.GitCommit)
	fmt.Fprintf(&b, "\tBuilt:\t\t%s\n", v.GitDate)
	fmt.Fprintf(&b, "\tGo Version:\t%s\n", v.GoVersion)
	for _, m := range mediaModules {
		if version, ok := v.Modules[m]; ok {
			fmt.Fprintf(&b, "\t%s\t%s\n", m, version)
		}
	}
	return b.String()
}

// Help implements cmdmain.SubCmd.
func (v *Version) Help() string {
	return "Print version information"
}
