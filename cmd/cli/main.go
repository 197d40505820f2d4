package main

import "github.com/coverage-analysis/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
