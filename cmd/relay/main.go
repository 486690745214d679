package main

import (
	"os"

	"github.com/xelth-com/chatrelay/cmd/relay/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
