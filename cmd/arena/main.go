package main

import (
	"os"

	"github.com/bnema/arena-relay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
