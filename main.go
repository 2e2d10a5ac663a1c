package main

import "github.com/andrewmarklloyd/device-monitor/cmd"

func main() {
	cmd.Execute()
}
