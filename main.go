// The main package for the pt-crawler executable.
package main

import (
	"github.com/JakeFAU/pt-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
