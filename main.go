// The main package for the webscraper executable.
package main

import "github.com/JakeFAU/webscraper/cmd"

func main() {
	cmd.Execute()
}
