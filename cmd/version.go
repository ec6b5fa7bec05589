package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/opalhq/opal-runtime/pkg/protocol"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("opald %s (protocol %d)\n", Version, protocol.ProtocolVersion)
		},
	}
}
