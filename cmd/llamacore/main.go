package main

import (
	"fmt"
	"os"

	"github.com/llamacore/llamacore/cmd"
)

func main() {
	if err := cmd.NewCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
