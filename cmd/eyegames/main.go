package main

import "eyegames/cmd/eyegames/command"

func main() {
	command.Execute()
}
