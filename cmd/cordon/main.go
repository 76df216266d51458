package main

import (
	"errors"
	"os"
)

// errGateDenied marks a run whose final action was blocked by the gate.
// It maps to exit code 1; every other failure exits 2.
var errGateDenied = errors.New("final action denied by gate")

func main() {
	if err := Execute(); err != nil {
		if errors.Is(err, errGateDenied) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
