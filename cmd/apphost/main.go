package main

import "github.com/alvesdmateus/apphost/internal/cli/commands"

func main() {
	commands.Execute()
}
