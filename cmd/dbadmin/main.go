package main

import "github.com/jmcleod/dbadmin/cmd/dbadmin/cmd"

func main() {
	cmd.Execute()
}
