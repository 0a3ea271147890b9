package subcmd

import (
	"flag"
	"fmt"

	"github.com/mengelbart/camrelay/cmdmain"
)

func init() {
	cmdmain.RegisterSubCmd("help", func() cmdmain.SubCmd { return new(help) })
}

type help struct{}

// Exec implements cmdmain.SubCmd. Without arguments it prints the command
// overview, `help <command>` prints the flags of that command.
func (h *help) Exec(cmd string, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return nil
	}
	sub, ok := cmdmain.Lookup(args[0])
	if !ok {
		flag.Usage()
		return fmt.Errorf("unknown subcommand: %q", args[0])
	}
	// every subcommand parses with flag.ExitOnError, so -h prints its usage
	// and exits
	return sub.Exec(cmd, []string{"-h"})
}

// Help implements cmdmain.SubCmd.
func (h *help) Help() string {
	return "Print help for camrelay or one of its commands"
}
