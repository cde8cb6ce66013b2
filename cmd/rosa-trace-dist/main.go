// Command rosa-trace-dist prints the edge-wise and syscall-wise distance
// between two traces already collected into a campaign's output
// directory, and optionally lists every index where they differ.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rosa-project/rosa/pkg/distance"
	"github.com/rosa-project/rosa/pkg/trace"
)

func main() {
	flagMetric := flag.String("distance-metric", "hamming", "the distance metric to use")
	flagVerbose := flag.Bool("verbose", false, "display all edges and syscalls that differ")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <output-dir> <trace-1-uid> <trace-2-uid>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 3 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), flag.Arg(1), flag.Arg(2), *flagMetric, *flagVerbose); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(outputDir, uid1, uid2, metricName string, verbose bool) error {
	metric, ok := distance.ParseMetric(metricName)
	if !ok {
		return fmt.Errorf("unknown distance metric %q", metricName)
	}

	trace1, err := loadTrace(outputDir, uid1)
	if err != nil {
		return err
	}
	trace2, err := loadTrace(outputDir, uid2)
	if err != nil {
		return err
	}

	edgeDist := metric.Distance(trace1.Trace.Edges, trace2.Trace.Edges)
	syscallDist := metric.Distance(trace1.Trace.Syscalls, trace2.Trace.Syscalls)

	fmt.Printf("Distances between %q and %q:\n", uid1, uid2)
	fmt.Printf("  Edge-wise: %d\n", edgeDist)
	fmt.Printf("  Syscall-wise: %d\n", syscallDist)

	if verbose {
		fmt.Println()
		fmt.Println("Edges differing:")
		printDiff(trace1.Trace.Edges, trace2.Trace.Edges)

		fmt.Println()
		fmt.Println("Syscalls differing:")
		printDiff(trace1.Trace.Syscalls, trace2.Trace.Syscalls)
	}

	return nil
}

func loadTrace(outputDir, uid string) (trace.Pair, error) {
	path := filepath.Join(outputDir, "traces", uid)
	return trace.Load(path, path+".trace", uid)
}

func printDiff(v1, v2 []byte) {
	n := len(v1)
	if len(v2) < n {
		n = len(v2)
	}
	for i := 0; i < n; i++ {
		if v1[i] != v2[i] {
			fmt.Printf("#%d: %d != %d\n", i, v1[i], v2[i])
		}
	}
}
