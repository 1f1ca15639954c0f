package main

import (
	"os"

	ssoctlcmd "github.com/ssoctl/ssoctl/pkg/ssoctl/cmd"
)

func main() {
	root := ssoctlcmd.NewRootCommand(ssoctlcmd.DefaultConfig())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
