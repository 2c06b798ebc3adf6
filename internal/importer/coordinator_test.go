package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"job-feed-importer/internal/config"
	"job-feed-importer/internal/models"
)

type fakeFeed struct {
	records map[string][]models.CandidateRecord
	errs    map[string]error
	calls   []string
}

func (f *fakeFeed) Fetch(_ context.Context, sourceURL string) ([]models.CandidateRecord, error) {
	f.calls = append(f.calls, sourceURL)
	if err := f.errs[sourceURL]; err != nil {
		return nil, err
	}
	return f.records[sourceURL], nil
}

type fakeQueue struct {
	messages []models.QueueMessage
	failOn   map[string]error // keyed by external id
}

func (f *fakeQueue) Enqueue(_ context.Context, msg models.QueueMessage) error {
	if err := f.failOn[msg.Record.ExternalID]; err != nil {
		return err
	}
	f.messages = append(f.messages, msg)
	return nil
}

type runState struct {
	run          models.ImportRun
	totalFetched int
	status       string
	errorMessage string
	failures     []models.ImportFailure
}

type fakeRunLog struct {
	nextID    int
	createErr error
	runs      map[string]*runState
	order     []string
}

func newFakeRunLog() *fakeRunLog {
	return &fakeRunLog{runs: make(map[string]*runState)}
}

func (f *fakeRunLog) CreateRun(_ context.Context, source string) (models.ImportRun, error) {
	if f.createErr != nil {
		return models.ImportRun{}, f.createErr
	}
	f.nextID++
	id := string(rune('a' + f.nextID - 1))
	run := models.ImportRun{ID: id, Source: source, Status: models.RunPending}
	f.runs[id] = &runState{run: run, status: models.RunPending}
	f.order = append(f.order, id)
	return run, nil
}

func (f *fakeRunLog) BeginProcessing(_ context.Context, id string, totalFetched int) error {
	st := f.runs[id]
	st.totalFetched = totalFetched
	st.status = models.RunProcessing
	return nil
}

func (f *fakeRunLog) MarkRunFailed(_ context.Context, id string, message string) error {
	st := f.runs[id]
	st.status = models.RunFailed
	st.errorMessage = message
	return nil
}

func (f *fakeRunLog) MarkRunCompleted(_ context.Context, id string, note string) error {
	st := f.runs[id]
	st.status = models.RunCompleted
	st.errorMessage = note
	return nil
}

func (f *fakeRunLog) AppendFailure(_ context.Context, id string, failure models.ImportFailure) error {
	st := f.runs[id]
	st.failures = append(st.failures, failure)
	return nil
}

func (f *fakeRunLog) TryComplete(_ context.Context, id string) (bool, error) {
	st := f.runs[id]
	if st.status == models.RunProcessing && len(st.failures) >= st.totalFetched {
		st.status = models.RunCompleted
		return true, nil
	}
	return false, nil
}

func record(externalID string) models.CandidateRecord {
	return models.CandidateRecord{
		ExternalID:  externalID,
		Title:       "title",
		Description: "description",
		SourceURL:   "https://example.com/feed",
	}
}

func coordinatorFor(sources []config.Source, feed *fakeFeed, q *fakeQueue, runs *fakeRunLog) *Coordinator {
	cfg := config.Config{Sources: sources}
	return New(cfg, feed, q, runs, zap.NewNop())
}

func TestRunAllEnqueuesFetchedRecords(t *testing.T) {
	src := config.Source{URL: "https://example.com/feed"}
	feed := &fakeFeed{records: map[string][]models.CandidateRecord{
		src.URL: {record("a"), record("b"), record("c")},
	}}
	q := &fakeQueue{}
	runs := newFakeRunLog()

	coordinatorFor([]config.Source{src}, feed, q, runs).RunAll(context.Background())

	require.Len(t, runs.order, 1)
	st := runs.runs[runs.order[0]]
	assert.Equal(t, models.RunProcessing, st.status)
	assert.Equal(t, 3, st.totalFetched)
	require.Len(t, q.messages, 3)
	assert.Equal(t, st.run.ID, q.messages[0].RunID)
	assert.Equal(t, src.URL, q.messages[0].SourceURL)
	assert.Empty(t, st.failures)
}

func TestRunAllFetchErrorFailsRunWithoutEnqueue(t *testing.T) {
	src := config.Source{URL: "https://example.com/feed"}
	feed := &fakeFeed{errs: map[string]error{src.URL: errors.New("connection refused")}}
	q := &fakeQueue{}
	runs := newFakeRunLog()

	coordinatorFor([]config.Source{src}, feed, q, runs).RunAll(context.Background())

	st := runs.runs[runs.order[0]]
	assert.Equal(t, models.RunFailed, st.status)
	assert.Equal(t, 0, st.totalFetched)
	assert.Contains(t, st.errorMessage, "failed to fetch jobs")
	assert.Empty(t, q.messages, "nothing may be enqueued on fetch failure")
}

func TestRunAllZeroRecordsCompletesImmediately(t *testing.T) {
	src := config.Source{URL: "https://example.com/feed"}
	feed := &fakeFeed{records: map[string][]models.CandidateRecord{src.URL: {}}}
	q := &fakeQueue{}
	runs := newFakeRunLog()

	coordinatorFor([]config.Source{src}, feed, q, runs).RunAll(context.Background())

	st := runs.runs[runs.order[0]]
	assert.Equal(t, models.RunCompleted, st.status)
	assert.Equal(t, 0, st.totalFetched)
	assert.Empty(t, q.messages)
}

func TestRunAllEnqueueFailureIsRecorded(t *testing.T) {
	src := config.Source{URL: "https://example.com/feed"}
	feed := &fakeFeed{records: map[string][]models.CandidateRecord{
		src.URL: {record("good"), record("bad")},
	}}
	q := &fakeQueue{failOn: map[string]error{"bad": errors.New("redis down")}}
	runs := newFakeRunLog()

	coordinatorFor([]config.Source{src}, feed, q, runs).RunAll(context.Background())

	st := runs.runs[runs.order[0]]
	require.Len(t, q.messages, 1)
	require.Len(t, st.failures, 1)
	assert.Equal(t, "bad", st.failures[0].Record.ExternalID)
	assert.Contains(t, st.failures[0].Reason, "enqueue failed")
}

func TestRunAllAllEnqueuesFailedCompletesRun(t *testing.T) {
	src := config.Source{URL: "https://example.com/feed"}
	feed := &fakeFeed{records: map[string][]models.CandidateRecord{
		src.URL: {record("x")},
	}}
	q := &fakeQueue{failOn: map[string]error{"x": errors.New("redis down")}}
	runs := newFakeRunLog()

	coordinatorFor([]config.Source{src}, feed, q, runs).RunAll(context.Background())

	st := runs.runs[runs.order[0]]
	assert.Equal(t, models.RunCompleted, st.status, "fully-failed enqueue still terminates the run")
	assert.Len(t, st.failures, 1)
}

func TestRunAllSourceFailureDoesNotAbortRemaining(t *testing.T) {
	broken := config.Source{URL: "https://broken.example.com/feed"}
	healthy := config.Source{URL: "https://healthy.example.com/feed"}
	feed := &fakeFeed{
		errs:    map[string]error{broken.URL: errors.New("boom")},
		records: map[string][]models.CandidateRecord{healthy.URL: {record("ok")}},
	}
	q := &fakeQueue{}
	runs := newFakeRunLog()

	coordinatorFor([]config.Source{broken, healthy}, feed, q, runs).RunAll(context.Background())

	require.Len(t, runs.order, 2)
	assert.Equal(t, models.RunFailed, runs.runs[runs.order[0]].status)
	assert.Equal(t, models.RunProcessing, runs.runs[runs.order[1]].status)
	assert.Len(t, q.messages, 1)
}

func TestRunAllCreateRunFailureSkipsSource(t *testing.T) {
	src := config.Source{URL: "https://example.com/feed"}
	feed := &fakeFeed{records: map[string][]models.CandidateRecord{src.URL: {record("a")}}}
	q := &fakeQueue{}
	runs := newFakeRunLog()
	runs.createErr = errors.New("store down")

	coordinatorFor([]config.Source{src}, feed, q, runs).RunAll(context.Background())

	assert.Empty(t, feed.calls, "fetch must not run without a log entry")
	assert.Empty(t, q.messages)
}
