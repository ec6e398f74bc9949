// Command amqp-probe drives a single AMQP 1.0 connection handshake
// against a remote peer, for manual protocol-engine verification outside
// a full application.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "amqp-probe",
	Short: "Exercise the AMQP 1.0 connection engine against a live peer",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
