// The main package for the webintel executable.
package main

import (
	"github.com/JakeFAU/web-intel-platform/cmd"
)

func main() {
	cmd.Execute()
}
