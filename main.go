package main

import "github.com/nextlevelbuilder/friendbot/cmd"

func main() {
	cmd.Execute()
}
