package main

import "github.com/wfunc/racebot/cmd"

func main() {
	cmd.Execute()
}
