package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/dbadmin/driver"
	_ "github.com/jmcleod/dbadmin/driver/mysql"
	_ "github.com/jmcleod/dbadmin/driver/postgres"
	_ "github.com/jmcleod/dbadmin/driver/sqlite"
)

var driversCmd = &cobra.Command{
	Use:   "drivers",
	Short: "List the compiled-in database drivers",
	Run: func(cmd *cobra.Command, args []string) {
		for _, d := range driver.List() {
			fmt.Printf("%-12s %s\n", d.ID, d.Name)
		}
	},
}

func init() {
	rootCmd.AddCommand(driversCmd)
}
