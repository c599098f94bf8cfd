package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dbadmin",
	Short: "dbadmin is a browser-based database administration tool",
	Long: `A single-binary database administration tool for MySQL, PostgreSQL and
SQLite. Credentials never touch disk: they are held encrypted in the
server session under a key only the browser carries.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
