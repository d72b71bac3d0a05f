package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/assessment-api/internal/dto"
	"github.com/noah-isme/assessment-api/internal/models"
	"github.com/noah-isme/assessment-api/internal/repository"
	"github.com/noah-isme/assessment-api/pkg/pipeline"
	"github.com/noah-isme/assessment-api/pkg/repohost"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Test{},
		&models.TestConfiguration{},
		&models.Candidate{},
		&models.Assignment{},
		&models.Submission{},
		&models.TestResult{},
		&models.NotificationDelivery{},
	))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type fixture struct {
	db          *gorm.DB
	assignments repository.AssignmentRepository
	submissions repository.SubmissionRepository
	results     repository.TestResultRepository
	tests       repository.TestRepository
	candidates  repository.CandidateRepository
	deliveries  repository.NotificationDeliveryRepository
	host        *fakeHost
	notifier    *recordingNotifier
	publisher   *recordingPublisher
	reconciler  Reconciler
	materialize Materializer
	test        models.Test
	assignment  models.Assignment
	clock       *fakeClock
}

func newFixture(t *testing.T, assignmentStatus string) *fixture {
	t.Helper()
	db := setupServiceDB(t)
	f := &fixture{
		db:          db,
		assignments: repository.NewAssignmentRepository(db),
		submissions: repository.NewSubmissionRepository(db),
		results:     repository.NewTestResultRepository(db),
		tests:       repository.NewTestRepository(db),
		candidates:  repository.NewCandidateRepository(db),
		deliveries:  repository.NewNotificationDeliveryRepository(db),
		host:        newFakeHost(),
		notifier:    &recordingNotifier{},
		publisher:   &recordingPublisher{},
		clock:       &fakeClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)},
	}

	ctx := context.Background()
	f.test = models.Test{Title: "Todo app", Description: "Build a todo list"}
	require.NoError(t, f.tests.Create(ctx, &f.test))
	require.NoError(t, f.tests.CreateConfiguration(ctx, &models.TestConfiguration{TestID: f.test.ID, Name: "adds items", Script: "test('adds', async () => {});", Enabled: true}))
	require.NoError(t, f.tests.CreateConfiguration(ctx, &models.TestConfiguration{TestID: f.test.ID, Name: "legacy", Script: "test('old', async () => {});", Enabled: false}))

	candidate, err := f.candidates.FindOrCreate(ctx, "Ada Lovelace", "ada@example.com")
	require.NoError(t, err)

	f.assignment = models.Assignment{
		TestID:      f.test.ID,
		CandidateID: candidate.ID,
		AccessToken: "tok-" + t.Name(),
		Status:      assignmentStatus,
	}
	require.NoError(t, f.assignments.Create(ctx, &f.assignment))

	rec := NewReconciler(f.submissions, f.results, f.assignments, "", ReconcilerDeps{
		Notifier:   f.notifier,
		Publisher:  f.publisher,
		AccessLink: func(token string) string { return "https://assess.test/assessment/" + token },
	}, testLogger())
	rec.(*reconciler).now = f.clock.Now
	f.reconciler = rec

	mat := NewMaterializer(f.host, f.tests, f.assignments, f.submissions, f.reconciler, nil, GradingSettings{
		RepoPrefix: "grading",
		Branch:     "main",
		Pipeline:   pipeline.Params{WebhookURL: "https://assess.test/api/v2/webhooks/test-results"},
	}, testLogger())
	mat.(*materializer).now = f.clock.Now
	f.materialize = mat

	return f
}

func (f *fixture) createSubmission(t *testing.T, files map[string]string) models.Submission {
	t.Helper()
	submission := models.Submission{AssignmentID: f.assignment.ID}
	submission.SetFiles(files)
	require.NoError(t, f.submissions.Create(context.Background(), &submission))
	return submission
}

func (f *fixture) reload(t *testing.T, submissionID uint) (models.Submission, models.Assignment) {
	t.Helper()
	submission, err := f.submissions.GetByID(context.Background(), submissionID)
	require.NoError(t, err)
	assignment, err := f.assignments.GetByID(context.Background(), f.assignment.ID)
	require.NoError(t, err)
	return submission, assignment
}

func newValidator() *validator.Validate {
	return NewValidator()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeHost struct {
	mu        sync.Mutex
	repos     map[string]repohost.Repository
	created   int
	ensureErr error
	commitErr error
	failPaths map[string]error
	failAll   error
	branch    string
	commits   [][]repohost.File
	targets   []repohost.Repository
}

func newFakeHost() *fakeHost {
	return &fakeHost{repos: map[string]repohost.Repository{}, failPaths: map[string]error{}}
}

func (h *fakeHost) EnsureRepository(_ context.Context, name string) (repohost.Repository, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ensureErr != nil {
		return repohost.Repository{}, h.ensureErr
	}
	if repo, ok := h.repos[name]; ok {
		return repo, nil
	}
	branch := h.branch
	if branch == "" {
		branch = "main"
	}
	repo := repohost.Repository{URL: "https://github.com/acme/" + name, Owner: "acme", Name: name, Branch: branch}
	h.repos[name] = repo
	h.created++
	return repo, nil
}

func (h *fakeHost) CommitFiles(_ context.Context, repo repohost.Repository, files []repohost.File, _ string) (repohost.CommitResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.commitErr != nil {
		return repohost.CommitResult{}, h.commitErr
	}
	h.commits = append(h.commits, files)
	h.targets = append(h.targets, repo)
	result := repohost.CommitResult{CommitSHA: fmt.Sprintf("sha-%d", len(h.commits))}
	for _, file := range files {
		err, ok := h.failPaths[file.Path]
		if h.failAll != nil {
			err, ok = h.failAll, true
		}
		if ok {
			result.Failed = append(result.Failed, repohost.FileError{Path: file.Path, Err: err})
			continue
		}
		result.Written = append(result.Written, file.Path)
	}
	return result, nil
}

func (h *fakeHost) lastCommit() map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := map[string]string{}
	if len(h.commits) == 0 {
		return out
	}
	for _, file := range h.commits[len(h.commits)-1] {
		out[file.Path] = file.Content
	}
	return out
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Dispatch(_ context.Context, notification Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]string, 0, len(n.sent))
	for _, notification := range n.sent {
		kinds = append(kinds, notification.Kind)
	}
	return kinds
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []dto.StatusEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event dto.StatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

type syncRunner struct{}

func (syncRunner) Run(ctx context.Context, fn func(context.Context)) {
	fn(ctx)
}

type deferredRunner struct {
	tasks []func(context.Context)
}

func (r *deferredRunner) Run(_ context.Context, fn func(context.Context)) {
	r.tasks = append(r.tasks, fn)
}

func (r *deferredRunner) drain(ctx context.Context) {
	for _, task := range r.tasks {
		task(ctx)
	}
	r.tasks = nil
}
