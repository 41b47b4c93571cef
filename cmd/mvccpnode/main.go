package main

import "github.com/haidar-88/mvccp/cmd/mvccpnode/cmd"

func main() {
	cmd.Execute()
}
