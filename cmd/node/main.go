package main

import (
	"fmt"
	"os"

	"hotledger/logs"
)

func main() {
	defer logs.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
