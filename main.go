package main

import (
	"os"

	"github.com/zaikaman/forgedeploy/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
