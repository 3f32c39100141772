// The main package for the jobhunt executable.
package main

import (
	"github.com/JakeFAU/jobhunt-agent/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
