// Command amqpctl is a small operator tool to exercise a broker from
// the terminal: publish one-off messages or tail a queue, against the
// topology described by the client library's Topology type.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
