package main

import (
	"os"

	"github.com/web8kameleon-hub/tokengate/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
