package main

import "github.com/LENAX/agent-flow/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
