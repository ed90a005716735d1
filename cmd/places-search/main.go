// The main package for the places-search executable.
package main

import (
	"github.com/JakeFAU/places-search/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
