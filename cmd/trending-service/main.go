package main

import (
	"os"

	"github.com/boil-wsb/trending-service/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
