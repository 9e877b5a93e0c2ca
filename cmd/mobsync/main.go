// Command mobsync archives the Lyon mobility feeds and syncs them into DynamoDB.
package main

import (
	"fmt"
	"os"

	"github.com/eunmann/mobility-sync/internal/cli"
)

func main() {
	if err := cli.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
