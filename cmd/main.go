package main

import (
	"os"

	"github.com/neuroerp/fabric/cmd/fabric"
)

func main() {
	if err := fabric.Execute(); err != nil {
		os.Exit(1)
	}
}
