package main

import "VKSaver/cmd"

func main() {
	cmd.Execute()
}
