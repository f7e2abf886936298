package main

import "github.com/damsac/health-assistant/cmd"

func main() {
	cmd.Execute()
}
