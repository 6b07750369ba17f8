package main

import "github.com/rustyeddy/riskguard/internal/cli"

func main() {
	cli.Execute()
}
