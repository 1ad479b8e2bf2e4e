// Command migrate is the reference CLI over the migration engine: it
// loads the compiled-in chain from the migrations package and drives it
// against a live Redis database through the runner (spec §10.5).
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}
