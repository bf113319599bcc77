// Command invoicedb manages invoices kept in a flat file store.
package main

import (
	"fmt"
	"os"
)

func main() {
	rootCmd := newRootCmd()
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
