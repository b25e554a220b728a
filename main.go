// ABOUTME: Entry point for the calsync CLI
// ABOUTME: Hands control to the cobra command tree
package main

import "github.com/harperreed/calsync/cli"

const version = "0.1.0"

func main() {
	cli.Execute(version)
}
