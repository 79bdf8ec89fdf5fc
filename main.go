package main

import "agentwatch/cmd"

func main() {
	cmd.Execute()
}
