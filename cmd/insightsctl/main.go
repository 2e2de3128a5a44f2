package main

import (
	"fmt"
	"os"

	"insights/internal/insightsctl/commands"
)

func main() {
	if err := commands.NewRoot().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "insightsctl: %v\n", err)
		os.Exit(1)
	}
}
