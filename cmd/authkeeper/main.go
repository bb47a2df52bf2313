// Command authkeeper runs the authentication service.
package main

import (
	"fmt"
	"os"

	"github.com/bissquit/authkeeper/cmd/authkeeper/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
