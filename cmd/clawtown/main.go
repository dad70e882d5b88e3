// clawtown is the Claw Town CLI for supervising multi-agent tmux workspaces.
package main

import (
	"os"

	"github.com/clawtown/clawtown/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
