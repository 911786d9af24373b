// Command relaygate runs the agent protocol gateway.
package main

import "github.com/relaygate/relaygate/cmd/relaygate/cmd"

func main() {
	cmd.Execute()
}
