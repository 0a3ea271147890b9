package main

import (
	"github.com/mengelbart/camrelay/cmdmain"
	_ "github.com/mengelbart/camrelay/subcmd"
)

func main() {
	cmdmain.Main()
}
