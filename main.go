// The main package for the lexcrawl executable.
package main

import "github.com/JakeFAU/lexcrawl/cmd"

func main() {
	cmd.Execute()
}
