package main

import (
	"os"

	"github.com/bnema/greenscore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
