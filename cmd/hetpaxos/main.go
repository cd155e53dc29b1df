package main

import "github.com/relab/hetpaxos/internal/cli"

func main() {
	cli.Execute()
}
