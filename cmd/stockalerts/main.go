package main

import (
	"stock-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
