package main

import (
	"ssv-dashboard-api/internal/cli"
)

func main() {
	cli.Execute()
}
