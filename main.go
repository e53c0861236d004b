package main

import "github.com/inletworks/inlet/cmd"

func main() {
	cmd.Execute()
}
