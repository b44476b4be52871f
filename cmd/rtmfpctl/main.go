// rtmfpctl is the CLI client for rtmfpd's admin HTTP surface (§4.11).
package main

import "github.com/sanjayc77/cumulus/cmd/rtmfpctl/commands"

func main() {
	commands.Execute()
}
