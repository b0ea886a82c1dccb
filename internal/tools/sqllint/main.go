// Command sqllint checks that every inline SQL constant starts with a unique
// --sql <uuid> marker, which the SQL runner requires at execution time.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	flag.Parse()
	roots := flag.Args()
	if len(roots) == 0 {
		roots = []string{"internal/sqlinline"}
	}

	findings, err := Lint(roots...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sqllint: %v\n", err)
		os.Exit(1)
	}
	if len(findings) == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "sqllint: invalid SQL markers")
	for _, f := range findings {
		fmt.Fprintf(os.Stderr, "  %s:%d %s (%s)\n", f.File, f.Line, f.Issue, f.Name)
	}
	os.Exit(1)
}
