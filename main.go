// Command cryptkeeper harvests ICO listings into a relational store.
package main

import "github.com/CMoncur/proto-scrape/cmd"

func main() {
	cmd.Execute()
}
