// Package cmdmain implements the camrelay command and its subcommands.
//
// The design idea is taken from [perkeep/cmdmain], but most of the code is
// modified. Subcommands add themselves with [RegisterSubCmd] from an init
// function. The implementation uses the same mechanism as perkeep. See
// [Perkeep LICENSE] for perkeeps copyright and license information.
//
// [perkeep/cmdmain]: https://github.com/perkeep/perkeep/tree/56726780f66b5654c1d7c01dc85b0e686ddbffd2/pkg/cmdmain
// [Perkeep LICENSE]: https://github.com/perkeep/perkeep/blob/56726780f66b5654c1d7c01dc85b0e686ddbffd2/COPYING
package cmdmain

import (
	"flag"
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"

	"github.com/mengelbart/camrelay/internal/logging"
)

// Environment variables providing defaults for the global flags.
const (
	LogLevelEnv  = "CAMRELAY_LOG_LEVEL"
	LogFormatEnv = "CAMRELAY_LOG_FORMAT"
)

type SubCmd interface {
	Help() string
	Exec(cmd string, args []string) error
}

var subCmds = map[string]SubCmd{}

func RegisterSubCmd(name string, makeSubCmd func() SubCmd) {
	if _, ok := subCmds[name]; ok {
		log.Fatalf("duplicate subcommand: %q", name)
	}
	subCmds[name] = makeSubCmd()
}

// Lookup returns the subcommand registered under name.
func Lookup(name string) (SubCmd, bool) {
	s, ok := subCmds[name]
	return s, ok
}

// globalFlags are parsed before the subcommand name.
type globalFlags struct {
	logFile   string
	logFormat string
	logLevel  string
	logSource bool
}

func (g *globalFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&g.logFile, "logfile", "", "Log file, empty string means stderr")
	fs.StringVar(&g.logFormat, "log-format", envOr(LogFormatEnv, "text"), "Logging format: text or json (env "+LogFormatEnv+")")
	fs.StringVar(&g.logLevel, "log-level", envOr(LogLevelEnv, "info"), "Logging level: debug, info, warn, error or a slog.Level number (env "+LogLevelEnv+")")
	fs.BoolVar(&g.logSource, "log-source", false, "Add the source file and line to log records")
}

// setupLogging configures the default logger. The returned function closes
// the log file, if any.
func (g *globalFlags) setupLogging() (func(), error) {
	format, err := logging.ParseFormat(g.logFormat)
	if err != nil {
		return nil, err
	}
	level, err := logging.ParseLevel(g.logLevel)
	if err != nil {
		return nil, err
	}
	var w io.Writer
	closeLog := func() {}
	if g.logFile != "" {
		f, err := os.Create(g.logFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
		closeLog = func() { f.Close() }
	}
	logging.Configure(format, level, w, g.logSource)
	return closeLog, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func usage(name string, fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, `%v relays frames from a camera to network receivers

Usage:
	%v [flags] <command> [command flags]

Examples:
	%v stream -device ivf -device-path clip.ivf -remote 127.0.0.1 -rtp-port 5004
	%v sdp -device ivf -device-path clip.ivf -rtp-port 5004 > clip.sdp
	%v serve -config camrelay.yaml
`, name, name, name, name, name)

		fmt.Fprintln(out, "\nCommands:")
		for _, cmd := range slices.Sorted(maps.Keys(subCmds)) {
			fmt.Fprintf(out, "  %-8s %s\n", cmd, subCmds[cmd].Help())
		}

		fmt.Fprintln(out, "\nFlags:")
		fs.PrintDefaults()
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Run `%v help <command>` to show full help for a command\n", name)
	}
}

// Main parses the global flags, configures logging and runs the selected
// subcommand. It exits the process on error.
func Main() {
	os.Exit(run(os.Args[0], os.Args[1:]))
}

func run(name string, args []string) int {
	var g globalFlags
	g.register(flag.CommandLine)
	flag.Usage = usage(name, flag.CommandLine)
	flag.CommandLine.Parse(args)

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "error: missing subcommand")
		flag.Usage()
		return 1
	}

	closeLog, err := g.setupLogging()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer closeLog()

	subCmd, ok := Lookup(flag.Arg(0))
	if !ok {
		fmt.Fprintf(os.Stderr, "error: unknown subcommand %q\n", flag.Arg(0))
		flag.Usage()
		return 1
	}
	if err := subCmd.Exec(name, flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}
