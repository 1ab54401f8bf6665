package main

import (
	"os"

	"github.com/lodgeledger/lodgeledger/cmd/lodgectl/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
