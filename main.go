package main

import "github.com/audiolibrelab/dictate/cmd"

func main() {
	cmd.Execute()
}
