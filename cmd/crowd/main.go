package main

import (
	"os"

	"github.com/crowdchat/crowd/cmd/crowd/commands"
)

var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
