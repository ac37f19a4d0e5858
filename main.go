// The main package for the arretes executable.
package main

import (
	"github.com/JakeFAU/arretes-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
