package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "indexdog",
		Short:   "Index file metadata",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newIndexCmd())

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
