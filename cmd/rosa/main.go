// Command rosa runs a backdoor-detection campaign end to end: it spawns
// the configured fuzzers, collects and clusters their seed traces, then
// streams every later trace through the oracle until stopped.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/rosa-project/rosa/internal/httpstatus"
	"github.com/rosa-project/rosa/internal/rosaerr"
	"github.com/rosa-project/rosa/internal/rosalog"
	"github.com/rosa-project/rosa/pkg/campaign"
	"github.com/rosa-project/rosa/pkg/config"
)

func main() {
	flagConfig := flag.String("config", "config.toml", "path to the campaign's config.toml")
	flagForce := flag.Bool("force", false, "overwrite an existing output directory")
	flagCollectAll := flag.Bool("collect-from-all-fuzzers", false,
		"collect traces from every configured fuzzer instead of only the main one")
	flagStatusAddr := flag.String("status-addr", "", "if set, serve a JSON/Prometheus status page on this address (e.g. :6060)")
	flag.Parse()

	os.Exit(run(*flagConfig, *flagForce, *flagCollectAll, *flagStatusAddr))
}

func run(configPath string, force, collectAll bool, statusAddr string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		rosalog.Fatalf("%v", err)
		return exitCode(err)
	}

	ctrl, err := campaign.New(cfg, force)
	if err != nil {
		rosalog.Fatalf("%v", err)
		return exitCode(err)
	}
	ctrl.CollectFromAllFuzzers = collectAll

	if statusAddr != "" {
		srv := httpstatus.New(statusAddr, ctrl.Layout, ctrl.Stats)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				rosalog.Warnf("status server stopped: %v", err)
			}
		}()
	}

	ctx, stop := campaign.NotifyStop(context.Background())
	defer stop()

	if err := ctrl.Run(ctx); err != nil {
		rosalog.Fatalf("%v", err)
		return exitCode(err)
	}
	if ctx.Err() != nil {
		return 130
	}
	return 0
}

// exitCode maps an error's rosaerr.Kind to a process exit status: 1 for a
// bad configuration, 2 for everything else (a fatal runtime condition, such
// as the main fuzzer crashing or the output directory already existing).
func exitCode(err error) int {
	if rosaerr.KindOf(err) == rosaerr.KindConfig {
		return 1
	}
	return 2
}
