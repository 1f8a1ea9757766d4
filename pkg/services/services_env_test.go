package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/importfile"
	"github.com/evalkit-dev/evalkit-engine/pkg/retry"
)

// testEnv wires every service over one memStore.
type testEnv struct {
	store      *memStore
	tx         *memTx
	scopes     *fakeScopes
	dispatcher *fakeDispatcher
	blobs      *fakeBlobs

	access   AccessControl
	projects ProjectService
	members  MemberService
	datasets DatasetService
	uploads  UploadService
	importer ImportService
}

// noRetry makes enqueue failures surface on the first attempt.
var noRetry = &retry.Config{MaxRetries: 0, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

var retryTwice = retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	store := newMemStore()
	env := &testEnv{
		store:      store,
		tx:         &memTx{store: store},
		scopes:     &fakeScopes{},
		dispatcher: &fakeDispatcher{},
		blobs:      newFakeBlobs(),
	}

	projectRepo := memProjectRepo{store}
	memberRepo := memMemberRepo{store}
	datasetRepo := memDatasetRepo{store}
	entryRepo := memEntryRepo{store}
	uploadRepo := memUploadRepo{store}

	env.access = NewAccessControl(projectRepo, memberRepo, datasetRepo, uploadRepo, logger)
	env.projects = NewProjectService(projectRepo, memberRepo, env.access, env.tx, logger)
	env.members = NewMemberService(memberRepo, env.access, logger)
	env.datasets = NewDatasetService(datasetRepo, entryRepo, env.access, logger)
	env.uploads = NewUploadService(uploadRepo, env.access, env.blobs, env.dispatcher,
		UploadServiceConfig{MaxFileBytes: 1 << 20, EnqueueRetry: noRetry}, nil, logger)
	env.importer = NewImportService(uploadRepo, entryRepo, env.blobs, env.scopes, env.tx,
		ImportServiceConfig{MaxFileBytes: 1 << 20, Limits: importfile.Limits{MaxLineBytes: 64 << 10, MaxEntries: 1000}},
		nil, logger)
	return env
}

// seedDataset creates a project with the given members and one dataset in it.
func (e *testEnv) seedDataset(members map[string]string) (projectID, datasetID uuid.UUID) {
	projectID = e.store.seedProject("project", members)
	datasetID = e.store.seedDataset(projectID, "dataset")
	return projectID, datasetID
}
