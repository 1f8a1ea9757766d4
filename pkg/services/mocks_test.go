package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/evalkit-dev/evalkit-engine/pkg/apperrors"
	"github.com/evalkit-dev/evalkit-engine/pkg/auth"
	"github.com/evalkit-dev/evalkit-engine/pkg/models"
	"github.com/evalkit-dev/evalkit-engine/pkg/repositories"
	"github.com/evalkit-dev/evalkit-engine/pkg/storage"
)

// userCtx returns a context authenticated as userID.
func userCtx(userID string) context.Context {
	return auth.WithClaims(context.Background(), &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID},
	})
}

// memStore is an in-memory stand-in for the engine database shared by the
// repository fakes below. Failures can be injected per operation name.
type memStore struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.Project
	members  map[uuid.UUID]map[string]string
	datasets map[uuid.UUID]*models.Dataset
	entries  []*models.DatasetEntry
	uploads  map[uuid.UUID]*models.FileUpload

	fail  map[string]error
	calls map[string]int
	now   func() time.Time

	datasetLocks sync.Map // dataset ID -> *sync.Mutex
}

func newMemStore() *memStore {
	return &memStore{
		projects: make(map[uuid.UUID]*models.Project),
		members:  make(map[uuid.UUID]map[string]string),
		datasets: make(map[uuid.UUID]*models.Dataset),
		uploads:  make(map[uuid.UUID]*models.FileUpload),
		fail:     make(map[string]error),
		calls:    make(map[string]int),
		now:      time.Now,
	}
}

// record counts a call and returns the injected failure for op, if any.
// Callers must hold mu.
func (s *memStore) record(op string) error {
	s.calls[op]++
	return s.fail[op]
}

func (s *memStore) callCount(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *memStore) setFail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail[op] = err
}

// seedProject creates a project with the given members.
func (s *memStore) seedProject(name string, members map[string]string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.projects[id] = &models.Project{ID: id, Name: name, CreatedAt: s.now(), UpdatedAt: s.now()}
	s.members[id] = make(map[string]string)
	for user, role := range members {
		s.members[id][user] = role
	}
	return id
}

func (s *memStore) seedDataset(projectID uuid.UUID, name string) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.datasets[id] = &models.Dataset{ID: id, ProjectID: projectID, Name: name, CreatedAt: s.now(), UpdatedAt: s.now()}
	return id
}

func (s *memStore) seedUpload(datasetID uuid.UUID, blobName string, status models.UploadStatus) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	now := s.now()
	s.uploads[id] = &models.FileUpload{
		ID:         id,
		DatasetID:  datasetID,
		BlobName:   blobName,
		FileName:   "data.jsonl",
		FileSize:   10,
		Status:     status,
		Visible:    true,
		UploadedAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return id
}

func (s *memStore) upload(id uuid.UUID) *models.FileUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

func (s *memStore) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

func (s *memStore) entriesFor(datasetID uuid.UUID) []*models.DatasetEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DatasetEntry
	for _, e := range s.entries {
		if e.DatasetID == datasetID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

type memSnapshot struct {
	projects map[uuid.UUID]models.Project
	members  map[uuid.UUID]map[string]string
	entries  []*models.DatasetEntry
	uploads  map[uuid.UUID]models.FileUpload
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		projects: make(map[uuid.UUID]models.Project, len(s.projects)),
		members:  make(map[uuid.UUID]map[string]string, len(s.members)),
		uploads:  make(map[uuid.UUID]models.FileUpload, len(s.uploads)),
	}
	for id, p := range s.projects {
		snap.projects[id] = *p
	}
	for id, m := range s.members {
		cp := make(map[string]string, len(m))
		for user, role := range m {
			cp[user] = role
		}
		snap.members[id] = cp
	}
	for _, e := range s.entries {
		cp := *e
		snap.entries = append(snap.entries, &cp)
	}
	for id, u := range s.uploads {
		snap.uploads[id] = *u
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects = make(map[uuid.UUID]*models.Project, len(snap.projects))
	for id, p := range snap.projects {
		cp := p
		s.projects[id] = &cp
	}
	s.members = snap.members
	s.entries = snap.entries
	s.uploads = make(map[uuid.UUID]*models.FileUpload, len(snap.uploads))
	for id, u := range snap.uploads {
		cp := u
		s.uploads[id] = &cp
	}
}

// ---------- projects ----------

type memProjectRepo struct{ *memStore }

var _ repositories.ProjectRepository = memProjectRepo{}

func (r memProjectRepo) Create(ctx context.Context, project *models.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("projects.Create"); err != nil {
		return err
	}
	project.ID = uuid.New()
	project.CreatedAt = r.now()
	project.UpdatedAt = project.CreatedAt
	cp := *project
	r.projects[project.ID] = &cp
	r.members[project.ID] = make(map[string]string)
	return nil
}

func (r memProjectRepo) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("projects.Get"); err != nil {
		return nil, err
	}
	p, ok := r.projects[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r memProjectRepo) ListForUser(ctx context.Context, userID string) ([]*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Project
	for id, p := range r.projects {
		if _, ok := r.members[id][userID]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memProjectRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("projects.Delete"); err != nil {
		return err
	}
	if _, ok := r.projects[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.projects, id)
	delete(r.members, id)
	for did, d := range r.datasets {
		if d.ProjectID == id {
			delete(r.datasets, did)
		}
	}
	return nil
}

// ---------- members ----------

type memMemberRepo struct{ *memStore }

var _ repositories.ProjectMemberRepository = memMemberRepo{}

func (r memMemberRepo) Add(ctx context.Context, member *models.ProjectMember) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("members.Add"); err != nil {
		return err
	}
	m, ok := r.members[member.ProjectID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if _, exists := m[member.UserID]; exists {
		return apperrors.ErrConflict
	}
	m[member.UserID] = member.Role
	return nil
}

func (r memMemberRepo) GetRole(ctx context.Context, projectID uuid.UUID, userID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("members.GetRole"); err != nil {
		return "", err
	}
	role, ok := r.members[projectID][userID]
	if !ok {
		return "", apperrors.ErrNotFound
	}
	return role, nil
}

func (r memMemberRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.ProjectMember, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ProjectMember
	for user, role := range r.members[projectID] {
		out = append(out, &models.ProjectMember{ProjectID: projectID, UserID: user, Role: role})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (r memMemberRepo) adminCount(projectID uuid.UUID) int {
	n := 0
	for _, role := range r.members[projectID] {
		if role == models.RoleAdmin {
			n++
		}
	}
	return n
}

func (r memMemberRepo) RemoveWithAdminCheck(ctx context.Context, projectID uuid.UUID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.members[projectID][userID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if role == models.RoleAdmin && r.adminCount(projectID) == 1 {
		return apperrors.ErrLastAdmin
	}
	delete(r.members[projectID], userID)
	return nil
}

func (r memMemberRepo) UpdateRoleWithAdminCheck(ctx context.Context, projectID uuid.UUID, userID, newRole string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.members[projectID][userID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if role == models.RoleAdmin && newRole != models.RoleAdmin && r.adminCount(projectID) == 1 {
		return apperrors.ErrLastAdmin
	}
	r.members[projectID][userID] = newRole
	return nil
}

// ---------- datasets ----------

type memDatasetRepo struct{ *memStore }

var _ repositories.DatasetRepository = memDatasetRepo{}

func (r memDatasetRepo) Create(ctx context.Context, dataset *models.Dataset) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("datasets.Create"); err != nil {
		return err
	}
	if _, ok := r.projects[dataset.ProjectID]; !ok {
		return apperrors.ErrNotFound
	}
	dataset.ID = uuid.New()
	dataset.CreatedAt = r.now()
	dataset.UpdatedAt = dataset.CreatedAt
	cp := *dataset
	r.datasets[dataset.ID] = &cp
	return nil
}

func (r memDatasetRepo) Get(ctx context.Context, id uuid.UUID) (*models.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.datasets[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *d
	for _, e := range r.entries {
		if e.DatasetID == id && !e.Outdated {
			cp.EntryCount++
		}
	}
	return &cp, nil
}

func (r memDatasetRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Dataset
	for _, d := range r.datasets {
		if d.ProjectID == projectID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memDatasetRepo) UpdateName(ctx context.Context, id uuid.UUID, name string) (*models.Dataset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("datasets.UpdateName"); err != nil {
		return nil, err
	}
	d, ok := r.datasets[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	d.Name = name
	d.UpdatedAt = r.now()
	cp := *d
	return &cp, nil
}

func (r memDatasetRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("datasets.Delete"); err != nil {
		return err
	}
	if _, ok := r.datasets[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.datasets, id)
	return nil
}

func (r memDatasetRepo) GetProjectID(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.datasets[id]
	if !ok {
		return uuid.Nil, fmt.Errorf("dataset %s: %w", id, apperrors.ErrNotFound)
	}
	return d.ProjectID, nil
}

// ---------- entries ----------

type memEntryRepo struct{ *memStore }

var _ repositories.DatasetEntryRepository = memEntryRepo{}

func (r memEntryRepo) LockDataset(ctx context.Context, datasetID uuid.UUID) error {
	held, ok := ctx.Value(heldLocksKey{}).(*heldLocks)
	if !ok {
		return errors.New("dataset lock requires a transaction")
	}
	r.mu.Lock()
	r.calls["entries.LockDataset"]++
	r.mu.Unlock()

	v, _ := r.datasetLocks.LoadOrStore(datasetID, &sync.Mutex{})
	lock := v.(*sync.Mutex)
	lock.Lock()
	held.unlocks = append(held.unlocks, lock.Unlock)
	return nil
}

func (r memEntryRepo) InsertBatch(ctx context.Context, entries []*models.DatasetEntry) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("entries.InsertBatch"); err != nil {
		return 0, err
	}
	for _, e := range entries {
		e.ID = uuid.New()
		e.CreatedAt = r.now()
		cp := *e
		r.entries = append(r.entries, &cp)
	}
	return len(entries), nil
}

func (r memEntryRepo) MarkSuperseded(ctx context.Context, datasetID, uploadID uuid.UUID, persistentIDs []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("entries.MarkSuperseded"); err != nil {
		return 0, err
	}
	ids := make(map[string]bool, len(persistentIDs))
	for _, id := range persistentIDs {
		ids[id] = true
	}
	var n int64
	for _, e := range r.entries {
		if e.DatasetID != datasetID || e.Outdated || !ids[e.PersistentID] {
			continue
		}
		if e.FileUploadID != nil && *e.FileUploadID == uploadID {
			continue
		}
		e.Outdated = true
		n++
	}
	return n, nil
}

func (r memEntryRepo) current(datasetID uuid.UUID) []*models.DatasetEntry {
	var out []*models.DatasetEntry
	for _, e := range r.entries {
		if e.DatasetID == datasetID && !e.Outdated {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out
}

func (r memEntryRepo) ListCurrent(ctx context.Context, datasetID uuid.UUID, limit, offset int) ([]*models.DatasetEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["entries.ListCurrent"]++
	cur := r.current(datasetID)
	if offset >= len(cur) {
		return []*models.DatasetEntry{}, nil
	}
	end := offset + limit
	if end > len(cur) {
		end = len(cur)
	}
	return cur[offset:end], nil
}

func (r memEntryRepo) CountCurrent(ctx context.Context, datasetID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.current(datasetID))), nil
}

// ---------- uploads ----------

type memUploadRepo struct{ *memStore }

var _ repositories.FileUploadRepository = memUploadRepo{}

func (r memUploadRepo) Create(ctx context.Context, upload *models.FileUpload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("uploads.Create"); err != nil {
		return err
	}
	if _, ok := r.datasets[upload.DatasetID]; !ok {
		return apperrors.ErrNotFound
	}
	now := r.now()
	upload.ID = uuid.New()
	upload.Status = models.UploadStatusPending
	upload.Visible = true
	upload.UploadedAt = now
	upload.CreatedAt = now
	upload.UpdatedAt = now
	cp := *upload
	r.uploads[upload.ID] = &cp
	return nil
}

func (r memUploadRepo) Get(ctx context.Context, id uuid.UUID) (*models.FileUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("uploads.Get"); err != nil {
		return nil, err
	}
	u, ok := r.uploads[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r memUploadRepo) ListVisible(ctx context.Context, datasetID uuid.UUID) ([]*models.FileUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*models.FileUpload{}
	for _, u := range r.uploads {
		if u.DatasetID == datasetID && u.Visible {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (r memUploadRepo) ResolveProjects(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("uploads.ResolveProjects"); err != nil {
		return nil, err
	}
	out := make(map[uuid.UUID]uuid.UUID, len(ids))
	for _, id := range ids {
		u, ok := r.uploads[id]
		if !ok {
			continue
		}
		if d, ok := r.datasets[u.DatasetID]; ok {
			out[id] = d.ProjectID
		}
	}
	return out, nil
}

func (r memUploadRepo) Hide(ctx context.Context, ids []uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("uploads.Hide"); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		if u, ok := r.uploads[id]; ok && u.Visible {
			u.Visible = false
			u.UpdatedAt = r.now()
			n++
		}
	}
	return n, nil
}

func (r memUploadRepo) Transition(ctx context.Context, id uuid.UUID, from, to models.UploadStatus, errMsg *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("uploads.Transition"); err != nil {
		return false, err
	}
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("%s -> %s: %w", from, to, apperrors.ErrInvalidTransition)
	}
	u, ok := r.uploads[id]
	if !ok || u.Status != from {
		return false, nil
	}
	u.Status = to
	u.ErrorMessage = errMsg
	u.UpdatedAt = r.now()
	return true, nil
}

func (r memUploadRepo) MarkComplete(ctx context.Context, id uuid.UUID, entriesImported int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("uploads.MarkComplete"); err != nil {
		return false, err
	}
	u, ok := r.uploads[id]
	if !ok || u.Status != models.UploadStatusProcessing {
		return false, nil
	}
	u.Status = models.UploadStatusComplete
	u.EntriesImported = entriesImported
	u.ErrorMessage = nil
	u.UpdatedAt = r.now()
	return true, nil
}

func (r memUploadRepo) ListStale(ctx context.Context, status models.UploadStatus, cutoff time.Time, limit int) ([]*models.FileUpload, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("uploads.ListStale"); err != nil {
		return nil, err
	}
	var out []*models.FileUpload
	for _, u := range r.uploads {
		if u.Status == status && u.UpdatedAt.Before(cutoff) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memUploadRepo) IncrementEnqueueAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("uploads.IncrementEnqueueAttempts"); err != nil {
		return 0, err
	}
	u, ok := r.uploads[id]
	if !ok {
		return 0, apperrors.ErrNotFound
	}
	u.EnqueueAttempts++
	u.UpdatedAt = r.now()
	return u.EnqueueAttempts, nil
}

// setUpdatedAt backdates an upload for sweeper tests.
func (s *memStore) setUpdatedAt(id uuid.UUID, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[id].UpdatedAt = t
}

// ---------- database ----------

// memTx runs fn and restores the store if it fails, mimicking a rollback.
// Dataset locks taken inside fn are released when it returns.
type memTx struct {
	store *memStore

	mu    sync.Mutex
	calls int
}

type heldLocksKey struct{}

// heldLocks collects the unlock functions of one memTx transaction.
type heldLocks struct {
	unlocks []func()
}

func (m *memTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	held := &heldLocks{}
	defer func() {
		for i := len(held.unlocks) - 1; i >= 0; i-- {
			held.unlocks[i]()
		}
	}()

	snap := m.store.snapshot()
	if err := fn(context.WithValue(ctx, heldLocksKey{}, held)); err != nil {
		m.store.restore(snap)
		return err
	}
	return nil
}

type fakeScopes struct {
	mu       sync.Mutex
	err      error
	acquired int
	released int
}

func (f *fakeScopes) WithScope(ctx context.Context) (context.Context, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	f.acquired++
	return ctx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.released++
	}, nil
}

// ---------- jobs ----------

// fakeDispatcher records enqueued uploads. Errors in errs are returned by
// successive calls before falling back to err.
type fakeDispatcher struct {
	mu       sync.Mutex
	enqueued []uuid.UUID
	errs     []error
	err      error
	calls    int
}

func (f *fakeDispatcher) EnqueueImport(ctx context.Context, uploadID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return err
		}
	} else if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, uploadID)
	return nil
}

func (f *fakeDispatcher) enqueuedIDs() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.enqueued...)
}

// ---------- storage ----------

type fakeBlobs struct {
	mu      sync.Mutex
	files   map[string]string
	openErr error
	issued  int
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{files: make(map[string]string)}
}

var _ storage.BlobStore = (*fakeBlobs)(nil)

func (f *fakeBlobs) put(name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[name] = content
}

func (f *fakeBlobs) IssueUploadURL(ctx context.Context, projectID uuid.UUID) (*models.UploadURL, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	name := storage.NewBlobName(projectID)
	return &models.UploadURL{
		URL:       "https://blobs.test/uploads/" + name + "?sig=abc",
		Container: "uploads",
		BlobName:  name,
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}, nil
}

func (f *fakeBlobs) Open(ctx context.Context, blobName string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	content, ok := f.files[blobName]
	if !ok {
		return nil, fmt.Errorf("%s: %w", blobName, storage.ErrBlobNotFound)
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

var errBoom = errors.New("boom")
