package main

import "github.com/kkrugley/pinq/internal/cli"

func main() {
	cli.Execute()
}
