package main

import (
	"os"

	"loadsim/cli"
)

func main() {
	if err := cli.NewApp().Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}
