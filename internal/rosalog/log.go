// Package rosalog provides logging for the ROSA packages, in the style of
// syzkaller's pkg/log: leveled verbosity, a global flag-controlled
// threshold, and optional in-memory caching of recent output so that a
// status surface (see internal/httpstatus) can show recent log lines
// without reopening the log file.
package rosalog

import (
	"bytes"
	"flag"
	"fmt"
	golog "log"
	"os"
	"sync"
	"time"
)

var (
	flagV        = flag.Int("rosa-vv", 0, "rosa logging verbosity")
	mu           sync.Mutex
	cacheMem     int
	cacheMaxMem  int
	cachePos     int
	cacheEntries []string
	prependTime  = true
)

// EnableCaching enables in-memory caching of log output, capped at
// maxLines entries and maxMem bytes total.
func EnableCaching(maxLines, maxMem int) {
	mu.Lock()
	defer mu.Unlock()
	if cacheEntries != nil {
		panic("rosalog: caching already enabled")
	}
	if maxLines < 1 || maxMem < 1 {
		panic("rosalog: invalid maxLines/maxMem")
	}
	cacheMaxMem = maxMem
	cacheEntries = make([]string, maxLines)
}

// CachedOutput returns the cached log output, oldest entry first.
func CachedOutput() string {
	mu.Lock()
	defer mu.Unlock()
	buf := new(bytes.Buffer)
	for i := range cacheEntries {
		pos := (cachePos + i) % len(cacheEntries)
		if cacheEntries[pos] == "" {
			continue
		}
		buf.WriteString(cacheEntries[pos])
		buf.WriteByte('\n')
	}
	return buf.String()
}

// Logf logs msg at verbosity level v: the message is printed if v is at or
// below the current -rosa-vv threshold, and is always appended to the
// cache (when caching is enabled) if v <= 1.
func Logf(v int, msg string, args ...any) {
	mu.Lock()
	doLog := v <= *flagV
	if cacheEntries != nil && v <= 1 {
		cacheMem -= len(cacheEntries[cachePos])
		if cacheMem < 0 {
			cacheMem = 0
		}
		timeStr := ""
		if prependTime {
			timeStr = time.Now().Format("2006/01/02 15:04:05 ")
		}
		cacheEntries[cachePos] = fmt.Sprintf(timeStr+msg, args...)
		cacheMem += len(cacheEntries[cachePos])
		cachePos++
		if cachePos == len(cacheEntries) {
			cachePos = 0
		}
		for i := 0; i < len(cacheEntries)-1 && cacheMem > cacheMaxMem; i++ {
			pos := (cachePos + i) % len(cacheEntries)
			cacheMem -= len(cacheEntries[pos])
			cacheEntries[pos] = ""
		}
	}
	mu.Unlock()

	if doLog {
		golog.Printf(msg, args...)
	}
}

// Warnf logs a non-fatal warning. Per spec.md §7, warnings appear in the
// status display and as structured log entries; here that means level-0
// logging plus the cache, so a later status read can surface it.
func Warnf(msg string, args ...any) {
	Logf(0, "warning: "+msg, args...)
}

// Fatalf prints a single line to standard error and does not exit — the
// caller (cmd/rosa) decides the process exit code from the error kind, per
// spec.md §6/§7. This mirrors the "single line to standard error" rule
// without baking in os.Exit, which would make the Campaign Controller
// untestable.
func Fatalf(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
}
