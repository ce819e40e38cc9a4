package main

import "github.com/quorumgate/quorumgate/internal/cli"

func main() {
	cli.Execute()
}
