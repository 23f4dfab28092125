// Command waldbctl inspects and drives recovery of an upscaledb
// write-ahead log from the command line, independent of any embedding
// database process.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "waldbctl: %v\n", err)
		os.Exit(1)
	}
}
