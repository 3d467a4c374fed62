package main

import (
	_ "time/tzdata"

	"github.com/nimburion/batchsync/pkg/cli"
)

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{
		Name:        "batchsync",
		Description: "Durable job queue, runner and transaction ledger for contract import and export",
	}))
}
