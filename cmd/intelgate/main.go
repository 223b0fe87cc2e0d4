package main

import "github.com/intelgate/intelgate/internal/cli"

func main() {
	cli.Execute()
}
