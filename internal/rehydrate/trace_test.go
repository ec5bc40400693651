package rehydrate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrace_AddAndCount(t *testing.T) {
	tr := newTrace("coder", "implement it")

	tr.Add(StageLexical, "adapter timed out", "code", "ERR_301_ADAPTER_TIMEOUT", "timeout")
	tr.Add(StageGates, "quality gate hard failure")
	tr.Count(StageFusion, 4)
	tr.Count(StageFusion, 3)

	require.Len(t, tr.Events, 2)
	assert.Equal(t, "ERR_301_ADAPTER_TIMEOUT", tr.Events[0].Attrs["code"])
	assert.Equal(t, "timeout", tr.Events[0].Attrs["!BADKEY"])
	assert.Nil(t, tr.Events[1].Attrs)

	n, ok := tr.StageCount(StageFusion)
	assert.True(t, ok)
	assert.Equal(t, 3, n)
	_, ok = tr.StageCount(StagePack)
	assert.False(t, ok)
	assert.Len(t, tr.EventsFor(StageGates), 1)
}

func TestTrace_JSONHasStableEmptyCollections(t *testing.T) {
	tr := newTrace("reviewer", "q")

	data, err := tr.JSON()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"stage_counts", "events", "dedup_pairs", "timeouts", "unavailable", "orphans", "entities"} {
		assert.Equal(t, []any{}, decoded[key], key)
	}
	assert.Contains(t, decoded, "profile")
	assert.Contains(t, decoded, "verdict")
}
