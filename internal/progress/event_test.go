package progress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageTerminal(t *testing.T) {
	t.Parallel()

	for _, stage := range []Stage{StageJobDone, StageJobError} {
		require.True(t, stage.Terminal(), stage)
	}
	for _, stage := range []Stage{StageJobClaimed, StageCacheHit, StageCacheMiss, StageScrapeAttempt, StageScrapeTimeout} {
		require.False(t, stage.Terminal(), stage)
	}
}
