// Command gotoken-sweeper runs the refresh token cleanup sweeper as a
// standalone process and serves its metrics.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "gotoken-sweeper: %v\n", err)
		os.Exit(1)
	}
}
