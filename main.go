package main

import (
	"fmt"
	"os"

	"github.com/liemle3893/e2e-runner-sub000/command"
)

func main() {
	if err := command.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(command.ExitCode(err))
	}
}
