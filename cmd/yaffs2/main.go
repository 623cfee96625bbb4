// Command yaffs2 is the CLI entry point; all flag and subcommand wiring
// lives in the cmd package.
package main

import "github.com/nandfs/yaffs2go/cmd"

func main() {
	cmd.Execute()
}
