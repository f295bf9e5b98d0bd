// Command sitesyncd is the minimal, reduced CLI surface for the crawl core
// (§1, §6): a single "run" subcommand that starts or resumes a crawl for one
// configured source. The full CLI, status reports, and data-query commands
// are out of scope.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sitesyncd",
		Short: "sitesyncd drives a single site crawl to completion",
	}
	root.AddCommand(newRunCmd())
	return root
}
