// The main package for the docharvest executable.
package main

import (
	"docharvest/cmd"
)

func main() {
	cmd.Execute()
}
