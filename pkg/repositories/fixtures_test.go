//go:build integration

package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/evalkit-dev/evalkit-engine/pkg/models"
	"github.com/evalkit-dev/evalkit-engine/pkg/testhelpers"
)

// repoTestContext holds test dependencies for repository tests.
type repoTestContext struct {
	t        *testing.T
	ctx      context.Context
	projects ProjectRepository
	members  ProjectMemberRepository
	datasets DatasetRepository
	entries  DatasetEntryRepository
	uploads  FileUploadRepository
}

// setupRepoTest truncates the shared database and returns a scoped context.
func setupRepoTest(t *testing.T) *repoTestContext {
	engineDB := testhelpers.GetEngineDB(t)
	engineDB.Truncate(t)
	return &repoTestContext{
		t:        t,
		ctx:      engineDB.ScopedContext(t),
		projects: NewProjectRepository(),
		members:  NewProjectMemberRepository(),
		datasets: NewDatasetRepository(),
		entries:  NewDatasetEntryRepository(),
		uploads:  NewFileUploadRepository(),
	}
}

func (tc *repoTestContext) createProject(name string) *models.Project {
	tc.t.Helper()
	project := &models.Project{Name: name}
	require.NoError(tc.t, tc.projects.Create(tc.ctx, project))
	return project
}

func (tc *repoTestContext) addMember(projectID uuid.UUID, userID, role string) {
	tc.t.Helper()
	require.NoError(tc.t, tc.members.Add(tc.ctx, &models.ProjectMember{ProjectID: projectID, UserID: userID, Role: role}))
}

func (tc *repoTestContext) createDataset(projectID uuid.UUID, name string) *models.Dataset {
	tc.t.Helper()
	dataset := &models.Dataset{ProjectID: projectID, Name: name}
	require.NoError(tc.t, tc.datasets.Create(tc.ctx, dataset))
	return dataset
}

func (tc *repoTestContext) createUpload(datasetID uuid.UUID, fileName string) *models.FileUpload {
	tc.t.Helper()
	upload := &models.FileUpload{
		DatasetID: datasetID,
		BlobName:  "blob-" + fileName,
		FileName:  fileName,
		FileSize:  1024,
	}
	require.NoError(tc.t, tc.uploads.Create(tc.ctx, upload))
	return upload
}

func (tc *repoTestContext) insertEntries(datasetID, uploadID uuid.UUID, persistentIDs ...string) {
	tc.t.Helper()
	entries := make([]*models.DatasetEntry, 0, len(persistentIDs))
	for i, pid := range persistentIDs {
		id := uploadID
		entries = append(entries, &models.DatasetEntry{
			DatasetID:    datasetID,
			FileUploadID: &id,
			SourceLine:   i + 1,
			PersistentID: pid,
			Input:        json.RawMessage(fmt.Sprintf(`{"messages":[{"role":"user","content":%q}]}`, pid)),
		})
	}
	_, err := tc.entries.InsertBatch(tc.ctx, entries)
	require.NoError(tc.t, err)
}
