package main

import "trading-sim/internal/cli"

func main() {
	cli.Execute()
}
