package main

import "crosschain-router/internal/cli"

func main() {
	cli.Execute()
}
