package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"PulseCampaign/internal/email"
	"PulseCampaign/internal/models"
	"PulseCampaign/internal/store"
)

type armCall struct {
	jobID string
	delay time.Duration
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []armCall
}

func (s *fakeScheduler) Arm(jobID string, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, armCall{jobID, delay})
}

func (s *fakeScheduler) armed() []armCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]armCall(nil), s.calls...)
}

type fakeDispatcher struct {
	mu   sync.Mutex
	sent []*email.Message
	err  error
}

func (d *fakeDispatcher) Send(_ context.Context, msg *email.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	return d.err
}

func (d *fakeDispatcher) messages() []*email.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*email.Message(nil), d.sent...)
}

// flakyRepo fails Save while failSave is set.
type flakyRepo struct {
	*store.Memory
	failSave bool
}

func (r *flakyRepo) Save(ctx context.Context, job *models.Job) error {
	if r.failSave {
		return errors.New("disk full")
	}
	return r.Memory.Save(ctx, job)
}

type harness struct {
	engine *Engine
	repo   *store.Memory
	sched  *fakeScheduler
	sender *fakeDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		repo:   store.NewMemory(),
		sched:  &fakeScheduler{},
		sender: &fakeDispatcher{},
	}
	h.engine = New(h.repo, h.sender,
		WithScheduler(h.sched),
		WithLogger(zaptest.NewLogger(t)),
		WithDefaultSender(email.Address{Email: "team@pulse.dev", Name: "Pulse"}),
	)
	return h
}

func (h *harness) init(t *testing.T, id string, recipients ...models.Recipient) {
	t.Helper()
	require.NoError(t, h.engine.Init(context.Background(), InitParams{
		ID:              id,
		Recipients:      recipients,
		SubjectTemplate: "Hi",
		BodyTemplate:    "Hello {{Email}}",
		IntervalSeconds: 1,
	}))
}

// run ticks until the job completes, checking invariants on every snapshot.
func (h *harness) run(t *testing.T, id string) models.StatusView {
	t.Helper()

	ctx := context.Background()
	wasDone := false
	for range 10_000 {
		view, err := h.engine.Status(ctx, id)
		require.NoError(t, err)
		assertInvariants(t, view)
		if wasDone {
			require.False(t, view.InProgress, "inProgress must never return to true")
		}
		if !view.InProgress {
			wasDone = true
			require.NoError(t, h.engine.tick(ctx, id))
			after, err := h.engine.Status(ctx, id)
			require.NoError(t, err)
			require.Equal(t, view, after, "tick on a completed job must be a no-op")
			return view
		}
		require.NoError(t, h.engine.tick(ctx, id))
	}
	require.FailNow(t, "job did not complete")
	return models.StatusView{}
}

func assertInvariants(t *testing.T, v models.StatusView) {
	t.Helper()
	require.Equal(t, v.Processed, v.Success+v.Failed, "processed == success + failed")
	require.LessOrEqual(t, v.Processed, v.Total, "processed <= total")
	require.Len(t, v.Failures, v.Failed)
}

func TestInit_Validation(t *testing.T) {
	t.Parallel()

	valid := InitParams{
		ID:              "job",
		Recipients:      []models.Recipient{{"Email": "a@x.com"}},
		SubjectTemplate: "Hi",
		BodyTemplate:    "Hello",
		IntervalSeconds: 1,
	}

	tests := []struct {
		name   string
		mutate func(p *InitParams)
	}{
		{"empty recipients", func(p *InitParams) { p.Recipients = nil }},
		{"missing id", func(p *InitParams) { p.ID = "" }},
		{"missing subject", func(p *InitParams) { p.SubjectTemplate = "" }},
		{"missing body", func(p *InitParams) { p.BodyTemplate = "" }},
		{"zero interval", func(p *InitParams) { p.IntervalSeconds = 0 }},
		{"unnamed attachment", func(p *InitParams) {
			p.Attachments = []models.Attachment{{Content: []byte("x")}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			p := valid
			tt.mutate(&p)

			err := h.engine.Init(context.Background(), p)
			require.ErrorIs(t, err, models.ErrValidation)
			assert.Empty(t, h.sched.armed(), "no timer for rejected job")

			_, err = h.engine.Status(context.Background(), p.ID)
			require.ErrorIs(t, err, models.ErrNotFound)
		})
	}
}

func TestTick_SendsAttachmentsWithEveryMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.engine.Init(context.Background(), InitParams{
		ID:              "job-att",
		Recipients:      []models.Recipient{{"Email": "a@x.com"}, {"Email": "b@x.com"}},
		SubjectTemplate: "Hi",
		BodyTemplate:    "Hello",
		IntervalSeconds: 1,
		Attachments: []models.Attachment{
			{Filename: "terms.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")},
		},
	}))

	view := h.run(t, "job-att")
	assert.Equal(t, 2, view.Success)

	sent := h.sender.messages()
	require.Len(t, sent, 2)
	for _, msg := range sent {
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, "terms.pdf", msg.Attachments[0].Filename)
		assert.Equal(t, "application/pdf", msg.Attachments[0].ContentType)
		assert.Equal(t, []byte("%PDF-1.4"), msg.Attachments[0].Content)
	}
}

func TestInit_CreatesJobAndArmsTimer(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.engine.Init(context.Background(), InitParams{
		ID:              "job-1",
		Recipients:      []models.Recipient{{"Email": "a@x.com"}, {"Email": "b@x.com"}},
		SubjectTemplate: "Hi",
		BodyTemplate:    "Hello",
		IntervalSeconds: 7,
	}))

	view, err := h.engine.Status(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 2, view.Total)
	assert.Zero(t, view.Processed)
	assert.True(t, view.InProgress)
	assert.Equal(t, models.CurrentInitializing, view.CurrentRecipient)
	assert.Equal(t, []armCall{{"job-1", 7 * time.Second}}, h.sched.armed())
}

func TestInit_RejectsExistingID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.init(t, "job-1", models.Recipient{"Email": "a@x.com"})
	require.NoError(t, h.engine.tick(context.Background(), "job-1"))

	err := h.engine.Init(context.Background(), InitParams{
		ID:              "job-1",
		Recipients:      []models.Recipient{{"Email": "b@x.com"}, {"Email": "c@x.com"}},
		SubjectTemplate: "Other",
		BodyTemplate:    "Other",
		IntervalSeconds: 1,
	})
	require.ErrorIs(t, err, models.ErrJobExists)

	view, err := h.engine.Status(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Total, "existing record untouched")
	assert.False(t, view.InProgress)
}

// Scenario A
func TestTick_SingleRecipientSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.init(t, "job-a", models.Recipient{"Email": "a@x.com"})

	require.NoError(t, h.engine.tick(context.Background(), "job-a"))

	view, err := h.engine.Status(context.Background(), "job-a")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Processed)
	assert.Equal(t, 1, view.Success)
	assert.Zero(t, view.Failed)
	assert.False(t, view.InProgress)
	assert.Equal(t, 100, view.CompletionPercentage)
	assert.Equal(t, models.CurrentCompleted, view.CurrentRecipient)
	require.NotNil(t, view.FinishedAt)

	msgs := h.sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello a@x.com", msgs[0].HTML)
	assert.Equal(t, "Hi", msgs[0].Subject)
	assert.Equal(t, "a@x.com", msgs[0].To.Email)
	assert.Equal(t, email.Address{Email: "team@pulse.dev", Name: "Pulse"}, msgs[0].From)

	// only the initial arm; the completing tick leaves the timer disarmed
	assert.Len(t, h.sched.armed(), 1)
}

// Scenario B
func TestTick_InvalidEmailIsRecorded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.init(t, "job-b", models.Recipient{"Email": "not-an-email"})

	view := h.run(t, "job-b")

	assert.Equal(t, 1, view.Failed)
	assert.Equal(t, view.Total, view.Processed)
	assert.Equal(t, []models.Failure{{Index: 0, Email: "not-an-email", Error: "Invalid email"}}, view.Failures)
	assert.Empty(t, h.sender.messages(), "dispatch must not be invoked")
}

func TestTick_MissingEmailKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.init(t, "job", models.Recipient{"Name": "Ada"}, models.Recipient{"Email": "b@x.com"})

	ctx := context.Background()
	require.NoError(t, h.engine.tick(ctx, "job"))

	view, err := h.engine.Status(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []models.Failure{{Index: 0, Email: "(missing)", Error: "Invalid email"}}, view.Failures)
	assert.Equal(t, models.CurrentUnknown, view.CurrentRecipient)
	assert.True(t, view.InProgress)

	require.NoError(t, h.engine.tick(ctx, "job"))
	view, err = h.engine.Status(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Success)
	assert.False(t, view.InProgress)
}

// Scenario C
func TestTick_DispatchFailuresNeverAbort(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sender.err = &email.TransportError{Provider: "smtp2go", StatusCode: 429, Detail: "quota exceeded " + strings.Repeat("x", 400)}

	recipients := make([]models.Recipient, 5)
	for i := range recipients {
		recipients[i] = models.Recipient{"Email": fmt.Sprintf("user%d@x.com", i)}
	}
	h.init(t, "job-c", recipients...)

	view := h.run(t, "job-c")

	assert.Equal(t, 5, view.Failed)
	assert.Zero(t, view.Success)
	assert.False(t, view.InProgress)
	require.Len(t, view.Failures, 5)
	for i, f := range view.Failures {
		assert.Equal(t, i, f.Index)
		assert.Equal(t, fmt.Sprintf("user%d@x.com", i), f.Email)
		assert.Contains(t, f.Error, "quota exceeded")
		assert.LessOrEqual(t, len([]rune(f.Error)), 180)
	}
	assert.Len(t, h.sender.messages(), 5)
}

// Scenario D
func TestStatus_UnknownJob(t *testing.T) {
	t.Parallel()

	_, err := newHarness(t).engine.Status(context.Background(), "missing")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestTick_ProcessesInOrderAndRearms(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.init(t, "job",
		models.Recipient{"email": "a@x.com", "First Name": "Ada"},
		models.Recipient{"EMAIL": "b@x.com", "First Name": "Bob"},
		models.Recipient{" Email ": "c@x.com"},
	)

	ctx := context.Background()
	require.NoError(t, h.engine.tick(ctx, "job"))

	view, err := h.engine.Status(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", view.CurrentRecipient)
	assert.Equal(t, 33, view.CompletionPercentage)
	assert.Len(t, h.sched.armed(), 2, "re-armed after a non-final tick")

	view = h.run(t, "job")
	assert.Equal(t, 3, view.Success)

	msgs := h.sender.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a@x.com", "b@x.com", "c@x.com"},
		[]string{msgs[0].To.Email, msgs[1].To.Email, msgs[2].To.Email})
	assert.Equal(t, "Ada", msgs[0].To.Name)
	assert.Len(t, h.sched.armed(), 3, "no arm after the final tick")
}

func TestTick_SenderTemplates(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	require.NoError(t, h.engine.Init(context.Background(), InitParams{
		ID: "job",
		Recipients: []models.Recipient{
			{"Email": "a@x.com", "Rep Email": "rep@x.com", "Rep": "Rita"},
			{"Email": "b@x.com", "Rep Email": "broken"},
			{"Email": "c@x.com"},
			{"Email": "d@x.com", "Rep Email": "rep2@x.com"},
		},
		SubjectTemplate:   "Hi {{Name}}",
		BodyTemplate:      "Body",
		IntervalSeconds:   1,
		FromEmailTemplate: "{{ Rep Email }}",
		FromNameTemplate:  "{{Rep}}",
	}))

	h.run(t, "job")

	msgs := h.sender.messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, email.Address{Email: "rep@x.com", Name: "Rita"}, msgs[0].From)
	assert.Equal(t, email.Address{Email: "team@pulse.dev", Name: "Pulse"}, msgs[1].From, "invalid rendered address falls back")
	assert.Equal(t, email.Address{Email: "team@pulse.dev", Name: "Pulse"}, msgs[2].From, "unresolved placeholder falls back")
	assert.Equal(t, email.Address{Email: "rep2@x.com", Name: "Pulse"}, msgs[3].From, "unresolved name keeps default name")
	assert.Equal(t, "Hi {{Name}}", msgs[0].Subject, "missing keys stay visible")
}

func TestTick_StaleFirings(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.engine.tick(ctx, "never-created"))

	h.init(t, "job", models.Recipient{"Email": "a@x.com"})
	require.NoError(t, h.engine.tick(ctx, "job"))
	require.NoError(t, h.engine.tick(ctx, "job"))
	require.NoError(t, h.engine.tick(ctx, "job"))

	assert.Len(t, h.sender.messages(), 1)
}

func TestTick_CompletionGuard(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.Create(ctx, &models.Job{
		ID:         "job",
		Recipients: []models.Recipient{{"Email": "a@x.com"}},
		Total:      1,
		Processed:  1,
		Success:    1,
		Interval:   1,
		InProgress: true,
	}))

	require.NoError(t, h.engine.tick(ctx, "job"))

	view, err := h.engine.Status(ctx, "job")
	require.NoError(t, err)
	assert.False(t, view.InProgress)
	assert.Equal(t, 1, view.Processed)
	assert.Empty(t, h.sender.messages())
	assert.Empty(t, h.sched.armed())
}

func TestTick_PersistenceFailureDoesNotRearm(t *testing.T) {
	t.Parallel()

	repo := &flakyRepo{Memory: store.NewMemory()}
	sched := &fakeScheduler{}
	sender := &fakeDispatcher{}
	e := New(repo, sender, WithScheduler(sched), WithLogger(zaptest.NewLogger(t)))

	ctx := context.Background()
	require.NoError(t, e.Init(ctx, InitParams{
		ID:              "job",
		Recipients:      []models.Recipient{{"Email": "a@x.com"}, {"Email": "b@x.com"}},
		SubjectTemplate: "Hi",
		BodyTemplate:    "Hello",
		IntervalSeconds: 1,
	}))

	repo.failSave = true
	err := e.tick(ctx, "job")
	require.ErrorIs(t, err, models.ErrPersistence)
	assert.Len(t, sched.armed(), 1, "no re-arm after a failed save")

	view, err := e.Status(ctx, "job")
	require.NoError(t, err)
	assert.Zero(t, view.Processed, "status reflects the last persisted tick")

	// the same index is retried once storage recovers
	repo.failSave = false
	require.NoError(t, e.tick(ctx, "job"))
	view, err = e.Status(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Processed)

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "a@x.com", msgs[0].To.Email)
	assert.Equal(t, "a@x.com", msgs[1].To.Email)
}

func TestTick_ShutdownKeepsCursor(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.sender.err = context.Canceled
	h.init(t, "job", models.Recipient{"Email": "a@x.com"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, h.engine.tick(ctx, "job"), context.Canceled)

	view, err := h.engine.Status(context.Background(), "job")
	require.NoError(t, err)
	assert.Zero(t, view.Processed)
	assert.Zero(t, view.Failed)
	assert.True(t, view.InProgress)
}

func TestResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.init(t, "done", models.Recipient{"Email": "a@x.com"})
	require.NoError(t, h.engine.tick(context.Background(), "done"))
	h.init(t, "running", models.Recipient{"Email": "a@x.com"}, models.Recipient{"Email": "b@x.com"})

	// a fresh engine over the same store, as after a restart
	sched := &fakeScheduler{}
	restarted := New(h.repo, h.sender, WithScheduler(sched), WithLogger(zaptest.NewLogger(t)))

	n, err := restarted.Resume(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []armCall{{"running", time.Second}}, sched.armed())
}

func TestEngine_StartRunsTimersEndToEnd(t *testing.T) {
	t.Parallel()

	repo := store.NewMemory()
	sender := &fakeDispatcher{}
	e := New(repo, sender, WithLogger(zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	e.Start(ctx, &wg, 2, nil)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	require.NoError(t, e.Init(ctx, InitParams{
		ID:              "job-a",
		Recipients:      []models.Recipient{{"Email": "a@x.com"}},
		SubjectTemplate: "Hi",
		BodyTemplate:    "Hello {{Email}}",
		IntervalSeconds: 1,
	}))

	require.Eventually(t, func() bool {
		view, err := e.Status(ctx, "job-a")
		return err == nil && !view.InProgress
	}, 5*time.Second, 20*time.Millisecond)

	view, err := e.Status(ctx, "job-a")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Success)

	msgs := sender.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello a@x.com", msgs[0].HTML)
}
