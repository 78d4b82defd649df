package main

import "basegraph.app/auditor/internal/cli"

func main() {
	cli.Execute()
}
