package cmd

import (
	"fmt"

	"github.com/jmcleod/dbadmin/internal/config"
)

const banner = `
      _ _               _           _
   __| | |__   __ _  __| |_ __ ___ (_)_ __
  / _` + "`" + ` | '_ \ / _` + "`" + ` |/ _` + "`" + ` | '_ ` + "`" + ` _ \| | '_ \
 | (_| | |_) | (_| | (_| | | | | | | | | | |
  \__,_|_.__/ \__,_|\__,_|_| |_| |_|_|_| |_|

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Database Administration - Version %s\x1b[0m\n\n", config.Version)
}
