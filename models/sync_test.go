package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyncResultSummary(t *testing.T) {
	r := &SyncResult{Pulled: 2, Pushed: 1}
	assert.Equal(t, "pulled 2, pushed 1, deleted 0", r.Summary())
	assert.Empty(t, r.ErrorMessage())

	r.Conflicts = 1
	r.FullResync = true
	r.AddError("push \"Lunch\": timeout")
	r.AddError("push \"Gym\": timeout")

	assert.Equal(t, "pulled 2, pushed 1, deleted 0, 1 conflict, 2 errors (full resync)", r.Summary())
	assert.Equal(t, "push \"Lunch\": timeout (and 1 more)", r.ErrorMessage())
	assert.Equal(t, 2, r.Errors)
}
