package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/docmill/docmill/cmd/docmill/commands"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
