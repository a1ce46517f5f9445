package main

import "github.com/jguida941/ci-hub-orchestrator-sub000/cmd"

func main() {
	cmd.Execute()
}
