// gipctl -- CLI client for the gipd control API.
package main

import (
	"github.com/gip-host/gogip/cmd/gipctl/commands"
)

func main() {
	commands.Execute()
}
