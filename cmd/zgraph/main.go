// Command zgraph inspects a schema file and runs fetch specifications
// against a database.
//
//	zgraph schema --check
//	zgraph render 'Book { name, store { name } }' --dialect postgres
//	zgraph fetch 'BookStore { name, books { name } }' --id 1 -o table
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorColor.Sprint("Error:"), err)
		os.Exit(1)
	}
}
