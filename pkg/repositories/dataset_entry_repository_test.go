//go:build integration

package repositories

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalkit-dev/evalkit-engine/pkg/models"
)

func TestDatasetEntryRepository_InsertBatchIsIdempotentPerLine(t *testing.T) {
	tc := setupRepoTest(t)

	project := tc.createProject("p")
	dataset := tc.createDataset(project.ID, "d")
	upload := tc.createUpload(dataset.ID, "f.jsonl")

	build := func() []*models.DatasetEntry {
		id := upload.ID
		return []*models.DatasetEntry{
			{DatasetID: dataset.ID, FileUploadID: &id, SourceLine: 1, PersistentID: "a", Input: json.RawMessage(`{"messages":[]}`)},
			{DatasetID: dataset.ID, FileUploadID: &id, SourceLine: 2, PersistentID: "b", Input: json.RawMessage(`{"messages":[]}`),
				Output: json.RawMessage(`{"role":"assistant","content":"ok"}`), Split: models.SplitTest},
		}
	}

	inserted, err := tc.entries.InsertBatch(tc.ctx, build())
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	inserted, err = tc.entries.InsertBatch(tc.ctx, build())
	require.NoError(t, err)
	assert.Equal(t, 0, inserted)

	entries, err := tc.entries.ListCurrent(tc.ctx, dataset.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	bySplit := map[models.Split]int{}
	for _, e := range entries {
		bySplit[e.Split]++
	}
	assert.Equal(t, map[models.Split]int{models.SplitTrain: 1, models.SplitTest: 1}, bySplit)
}

func TestDatasetEntryRepository_MarkSupersededSkipsSameUpload(t *testing.T) {
	tc := setupRepoTest(t)

	project := tc.createProject("p")
	dataset := tc.createDataset(project.ID, "d")
	upload := tc.createUpload(dataset.ID, "f.jsonl")
	tc.insertEntries(dataset.ID, upload.ID, "a", "b")

	marked, err := tc.entries.MarkSuperseded(tc.ctx, dataset.ID, upload.ID, []string{"a", "b"})
	require.NoError(t, err)
	assert.Zero(t, marked)

	marked, err = tc.entries.MarkSuperseded(tc.ctx, dataset.ID, upload.ID, nil)
	require.NoError(t, err)
	assert.Zero(t, marked)
}
