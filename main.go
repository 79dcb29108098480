package main

import "github.com/timvw/loopmux/cmd"

func main() {
	cmd.Execute()
}
