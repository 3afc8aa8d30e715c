package main

import "github.com/agentic-research/vaultgraph/cmd"

func main() {
	cmd.Execute()
}
