// Command rosa-showmap prints the nonzero edge indices of a trace dump,
// the way afl-showmap prints a coverage bitmap.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/rosa-project/rosa/pkg/trace"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s <trace-file>\n", os.Args[0])
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(traceFile string) error {
	pair, err := trace.Load(traceFile, traceFile, "_dummy")
	if err != nil {
		return err
	}
	for index, count := range pair.Trace.Edges {
		if count != 0 {
			fmt.Printf("%06d:%d\n", index, count)
		}
	}
	return nil
}
