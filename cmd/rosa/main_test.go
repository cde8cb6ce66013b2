package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rosa-project/rosa/internal/rosaerr"
)

func TestExitCodeMapsErrorKinds(t *testing.T) {
	cases := []struct {
		kind rosaerr.Kind
		want int
	}{
		{rosaerr.KindConfig, 1},
		{rosaerr.KindIO, 2},
		{rosaerr.KindBadTraceFormat, 2},
		{rosaerr.KindAdapter, 2},
		{rosaerr.KindProtocol, 2},
		{rosaerr.KindInternal, 2},
	}
	for _, tc := range cases {
		err := rosaerr.New(tc.kind, "boom")
		assert.Equal(t, tc.want, exitCode(err))
	}
}

func TestRunReportsFatalErrorForMissingConfigFile(t *testing.T) {
	assert.Equal(t, 2, run("/nonexistent/config.toml", false, false, ""))
}
