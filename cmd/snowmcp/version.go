package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the snowmcp version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("snowmcp %s\n", version)
	},
}
