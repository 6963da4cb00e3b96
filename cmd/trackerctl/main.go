package main

import (
	"os"

	"github.com/mamdani-tracker/tracker/cmd/trackerctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
