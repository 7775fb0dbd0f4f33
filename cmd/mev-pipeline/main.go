package main

import (
	"github.com/mev-engine/solana-mev-pipeline/internal/cli"
)

func main() {
	cli.Execute()
}
