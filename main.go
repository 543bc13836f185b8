package main

import "github.com/lightshowd/lightshowd/cmd"

func main() {
	cmd.Execute()
}
