package main

import (
	"github.com/shizukutanaka/Temari/cmd/temari/commands"
)

func main() {
	commands.Execute()
}
