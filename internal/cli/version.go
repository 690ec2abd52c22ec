package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kuzushi version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("kuzushi", cliVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
