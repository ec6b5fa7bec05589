// Command opald is the stdio JSON-RPC agent runtime's entrypoint.
package main

import "github.com/opalhq/opal-runtime/cmd"

func main() {
	cmd.Execute()
}
