// Command wasm2ir translates WebAssembly modules into il artifacts, runs
// them, and checks them against wazero.
package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/wippyai/wasm2ir/host"
)

func main() {
	gs := newGlobalState()
	err := newRootCmd(gs).Execute()

	var exit *host.ExitError
	switch {
	case err == nil:
	case stderrors.As(err, &exit):
		os.Exit(int(exit.Code))
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
