package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lueurxax/edit-relay/internal/core/domain"
	apperrors "github.com/lueurxax/edit-relay/internal/core/errors"
	"github.com/lueurxax/edit-relay/internal/process/dedup"
	"github.com/lueurxax/edit-relay/internal/process/filters"
	"github.com/lueurxax/edit-relay/internal/process/retry"
)

var errBoom = errors.New("boom")

type fakeBackend struct {
	parent    domain.ParentRef
	parentErr error

	// submitErrs is consumed one entry per Submit call; once empty, Submit succeeds.
	submitErrs     []error
	transportLands bool
	beforeSubmit   func()

	submits     []domain.Submission
	recent      []domain.RecentPost
	recentErr   error
	// recentErrs is consumed one entry per RecentPosts call before recentErr applies.
	recentErrs  []error
	recentCalls int
	nsfw        []domain.SubmissionRef
	replies     []string
	replyErrs   []error
	nextID      int
}

func (f *fakeBackend) ResolveParent(context.Context, domain.InboundItem) (domain.ParentRef, error) {
	if f.parentErr != nil {
		return nil, f.parentErr
	}

	if f.parent == nil {
		return domain.PostParent{Title: "Original post", Permalink: "https://reddit.com/r/pics/comments/p1/"}, nil
	}

	return f.parent, nil
}

func (f *fakeBackend) Submit(_ context.Context, sub domain.Submission) (domain.SubmissionRef, error) {
	if f.beforeSubmit != nil {
		f.beforeSubmit()
	}

	f.submits = append(f.submits, sub)
	f.nextID++
	ref := domain.SubmissionRef{
		ID:        fmt.Sprintf("t3_%d", f.nextID),
		Permalink: fmt.Sprintf("https://reddit.com/r/dest/comments/%d/", f.nextID),
	}

	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]

		if err != nil {
			if errors.Is(err, apperrors.ErrTransport) && f.transportLands {
				f.recent = append(f.recent, domain.RecentPost{Title: sub.Title, URL: sub.URL, Ref: ref})
			}

			return domain.SubmissionRef{}, err
		}
	}

	f.recent = append(f.recent, domain.RecentPost{Title: sub.Title, URL: sub.URL, Ref: ref})

	return ref, nil
}

func (f *fakeBackend) MarkNSFW(_ context.Context, ref domain.SubmissionRef) error {
	f.nsfw = append(f.nsfw, ref)
	return nil
}

func (f *fakeBackend) RecentPosts(_ context.Context, limit int) ([]domain.RecentPost, error) {
	f.recentCalls++

	if len(f.recentErrs) > 0 {
		err := f.recentErrs[0]
		f.recentErrs = f.recentErrs[1:]

		if err != nil {
			return nil, err
		}
	}

	if f.recentErr != nil {
		return nil, f.recentErr
	}

	if len(f.recent) > limit {
		return f.recent[:limit], nil
	}

	return f.recent, nil
}

func (f *fakeBackend) Reply(_ context.Context, _ domain.SubmissionRef, body string) error {
	if len(f.replyErrs) > 0 {
		err := f.replyErrs[0]
		f.replyErrs = f.replyErrs[1:]

		if err != nil {
			return err
		}
	}

	f.replies = append(f.replies, body)

	return nil
}

type memoryState struct {
	urls       []string
	checkpoint time.Time
	appendErr  error
}

func (m *memoryState) LoadPublishedURLs(context.Context) ([]string, error) {
	return append([]string(nil), m.urls...), nil
}

func (m *memoryState) AppendPublishedURL(_ context.Context, url string) error {
	if m.appendErr != nil {
		return m.appendErr
	}

	m.urls = append(m.urls, url)

	return nil
}

func (m *memoryState) LoadCheckpoint(context.Context) (time.Time, error) {
	return m.checkpoint, nil
}

func (m *memoryState) SaveCheckpoint(_ context.Context, t time.Time) error {
	m.checkpoint = t
	return nil
}

type staticFilters struct {
	snapshot filters.Snapshot
}

func (s staticFilters) MaybeRefresh(time.Time) filters.Snapshot {
	return s.snapshot
}

type sleepRecorder struct {
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return ctx.Err()
}

type recordingNotifier struct {
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) error {
	n.messages = append(n.messages, text)
	return nil
}

type harness struct {
	backend  *fakeBackend
	state    *memoryState
	sleeps   *sleepRecorder
	notifier *recordingNotifier
	ledger   *dedup.Ledger
	cp       *dedup.Checkpoint
	pipeline *Pipeline
}

func newHarness(t *testing.T, backend *fakeBackend, snapshot filters.Snapshot) *harness {
	t.Helper()

	logger := zerolog.Nop()
	ctx := context.Background()
	state := &memoryState{}

	ledger, err := dedup.NewLedger(ctx, state)
	require.NoError(t, err)

	cp, err := dedup.LoadCheckpoint(ctx, state)
	require.NoError(t, err)

	sleeps := &sleepRecorder{}
	notifier := &recordingNotifier{}

	p := New(Deps{
		Backend:    backend,
		Classifier: filters.NewClassifier(nil, []string{"[template]"}),
		Filters:    staticFilters{snapshot: snapshot},
		Ledger:     ledger,
		Checkpoint: cp,
		Replies:    NewReplier(backend, time.Second, sleeps.sleep, &logger),
		Notifier:   notifier,
		Logger:     &logger,
	}, Options{
		Policy:  retry.DefaultPolicy(),
		Sleep:   sleeps.sleep,
		Context: ContextOptions{WatchedUser: "artist"},
	})

	return &harness{
		backend:  backend,
		state:    state,
		sleeps:   sleeps,
		notifier: notifier,
		ledger:   ledger,
		cp:       cp,
		pipeline: p,
	}
}

func approved(texts ...string) filters.Snapshot {
	s := filters.Snapshot{ApprovedTexts: map[string]struct{}{}, IgnoredChannels: map[string]struct{}{}}
	for _, t := range texts {
		s.ApprovedTexts[filters.NormalizeAnchor(t)] = struct{}{}
	}

	return s
}

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func editItem(id string, offset time.Duration, body string) domain.InboundItem {
	return domain.InboundItem{
		ID:        id,
		Body:      body,
		CreatedAt: baseTime.Add(offset),
		Channel:   "pics",
		IsRoot:    true,
	}
}

func TestProcess_PublishesApprovedImageExactlyOnce(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, approved("oops"))
	item := editItem("t1_a", 0, "EDIT: [oops](http://x.com/a.jpg)")

	out, err := h.pipeline.Process(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, StateContextPosted, out.State)
	require.Len(t, h.backend.submits, 1)
	assert.Equal(t, "http://x.com/a.jpg", h.backend.submits[0].URL)
	assert.Equal(t, "Original post", h.backend.submits[0].Title)
	assert.Equal(t, []string{"http://x.com/a.jpg"}, h.state.urls)
	assert.Len(t, h.backend.replies, 1)
	assert.NotEmpty(t, out.CorrelationID)

	// replay of the identical item
	out, err = h.pipeline.Process(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, StateFilteredOut, out.State)
	assert.Len(t, h.backend.submits, 1)
	assert.Len(t, h.state.urls, 1)
}

func TestProcess_SameURLInLaterItemIsDuplicate(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, approved("oops"))

	_, err := h.pipeline.Process(context.Background(), editItem("t1_a", 0, "EDIT: [oops](http://x.com/a.jpg)"))
	require.NoError(t, err)

	out, err := h.pipeline.Process(context.Background(), editItem("t1_b", time.Minute, "again [oops](http://x.com/a.jpg)"))
	require.NoError(t, err)

	assert.Equal(t, StateDupSkipped, out.State)
	assert.Len(t, h.backend.submits, 1)
	assert.Len(t, h.state.urls, 1)
}

func TestProcess_CheckpointAdvancesOnlyOnPublish(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, approved("oops"))
	ctx := context.Background()

	before := h.cp.Value()

	out, err := h.pipeline.Process(ctx, editItem("t1_a", time.Minute, "no links here"))
	require.NoError(t, err)
	assert.Equal(t, StateFilteredOut, out.State)
	assert.Equal(t, before, h.cp.Value(), "no publish, no movement")

	out, err = h.pipeline.Process(ctx, editItem("t1_b", 2*time.Minute, "[oops](https://i.redd.it/abc)"))
	require.NoError(t, err)
	assert.Equal(t, StateContextPosted, out.State)
	assert.True(t, h.cp.Value().After(before))
	assert.Equal(t, baseTime.Add(2*time.Minute), h.cp.Value())
	assert.Equal(t, baseTime.Add(2*time.Minute), h.state.checkpoint)

	// an older item arriving late is covered by the checkpoint
	out, err = h.pipeline.Process(ctx, editItem("t1_c", time.Minute, "[oops](https://i.redd.it/def)"))
	require.NoError(t, err)
	assert.Equal(t, StateFilteredOut, out.State)
	assert.Equal(t, filters.ReasonCheckpoint, out.Reason)
	assert.Equal(t, baseTime.Add(2*time.Minute), h.cp.Value())
}

func TestProcess_ServerUnavailableRetriesBeforeRecording(t *testing.T) {
	backend := &fakeBackend{
		submitErrs: []error{
			fmt.Errorf("submit: %w", apperrors.ErrServerUnavailable),
			fmt.Errorf("submit: %w: %w", apperrors.ErrServerUnavailable, apperrors.ErrOverloaded),
		},
	}
	h := newHarness(t, backend, approved("oops"))

	var ledgerDuringSubmit []bool

	backend.beforeSubmit = func() {
		ledgerDuringSubmit = append(ledgerDuringSubmit, h.ledger.Contains("http://x.com/a.jpg"))
	}

	out, err := h.pipeline.Process(context.Background(), editItem("t1_a", 0, "EDIT: [oops](http://x.com/a.jpg)"))
	require.NoError(t, err)

	assert.Equal(t, StateContextPosted, out.State)
	assert.Len(t, backend.submits, 3)
	assert.Equal(t, []bool{false, false, false}, ledgerDuringSubmit)
	assert.Equal(t, []time.Duration{2 * time.Minute, 10 * time.Minute}, h.sleeps.waits)
	assert.Equal(t, []string{"http://x.com/a.jpg"}, h.state.urls)
}

func TestProcess_RateLimitIsBounded(t *testing.T) {
	backend := &fakeBackend{
		submitErrs: []error{apperrors.ErrRateLimited, apperrors.ErrValidation, apperrors.ErrRateLimited, nil},
	}
	h := newHarness(t, backend, approved("oops"))

	out, err := h.pipeline.Process(context.Background(), editItem("t1_a", 0, "[oops](http://x.com/a.jpg)"))
	require.NoError(t, err)

	assert.Equal(t, StateFailedPermanent, out.State)
	assert.Equal(t, []string{"http://x.com/a.jpg"}, out.Abandoned)
	assert.Len(t, backend.submits, 3)
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, h.sleeps.waits)
	assert.Empty(t, h.state.urls)
	assert.True(t, h.cp.Value().IsZero())
	require.Len(t, h.notifier.messages, 1)
	assert.Contains(t, h.notifier.messages[0], "Failed to publish")
}

func TestProcess_TransportFailure(t *testing.T) {
	tests := []struct {
		name          string
		errs          []error
		lands         bool
		recentErrs    []error
		wantState     State
		wantSubmits   int
		wantAdopted   bool
		wantLedgerLen int
		wantWaits     []time.Duration
	}{
		{
			name:          "post landed is adopted without resubmitting",
			errs:          []error{apperrors.ErrTransport},
			lands:         true,
			wantState:     StateContextPosted,
			wantSubmits:   1,
			wantAdopted:   true,
			wantLedgerLen: 1,
			wantWaits:     []time.Duration{30 * time.Second},
		},
		{
			name:          "post missing is retried once",
			errs:          []error{apperrors.ErrTransport},
			wantState:     StateContextPosted,
			wantSubmits:   2,
			wantLedgerLen: 1,
			wantWaits:     []time.Duration{30 * time.Second},
		},
		{
			name:        "second miss fails permanently",
			errs:        []error{apperrors.ErrTransport, apperrors.ErrTransport},
			wantState:   StateFailedPermanent,
			wantSubmits: 2,
			wantWaits:   []time.Duration{30 * time.Second, 30 * time.Second},
		},
		{
			name:          "lookup outage is waited out before deciding",
			errs:          []error{apperrors.ErrTransport},
			lands:         true,
			recentErrs:    []error{apperrors.ErrServerUnavailable, apperrors.ErrRateLimited},
			wantState:     StateContextPosted,
			wantSubmits:   1,
			wantAdopted:   true,
			wantLedgerLen: 1,
			wantWaits:     []time.Duration{30 * time.Second, 2 * time.Minute, 30 * time.Second},
		},
		{
			name:        "unclassified lookup failure never resubmits",
			errs:        []error{apperrors.ErrTransport},
			lands:       true,
			recentErrs:  []error{errBoom},
			wantState:   StateFailedPermanent,
			wantSubmits: 1,
			wantWaits:   []time.Duration{30 * time.Second},
		},
		{
			name:        "lookup rate limit budget is bounded",
			errs:        []error{apperrors.ErrTransport},
			recentErrs:  []error{apperrors.ErrRateLimited, apperrors.ErrRateLimited, apperrors.ErrRateLimited},
			wantState:   StateFailedPermanent,
			wantSubmits: 1,
			wantWaits:   []time.Duration{30 * time.Second, 30 * time.Second, 30 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{submitErrs: tt.errs, transportLands: tt.lands, recentErrs: tt.recentErrs}
			h := newHarness(t, backend, approved("oops"))

			out, err := h.pipeline.Process(context.Background(), editItem("t1_a", 0, "[oops](http://x.com/a.jpg)"))
			require.NoError(t, err)

			assert.Equal(t, tt.wantState, out.State)
			assert.Len(t, backend.submits, tt.wantSubmits)
			assert.Len(t, h.state.urls, tt.wantLedgerLen)
			assert.Equal(t, tt.wantWaits, h.sleeps.waits)

			if tt.wantAdopted {
				require.Len(t, out.Published, 1)
				assert.True(t, out.Published[0].Adopted)
			}
		})
	}
}

func TestProcess_TransportVerifyMatchesTitleAndURL(t *testing.T) {
	backend := &fakeBackend{
		submitErrs: []error{apperrors.ErrTransport},
		recent: []domain.RecentPost{
			{Title: "Original post", URL: "http://x.com/other.jpg", Ref: domain.SubmissionRef{ID: "t3_other"}},
		},
	}
	h := newHarness(t, backend, approved("oops"))

	out, err := h.pipeline.Process(context.Background(), editItem("t1_a", 0, "[oops](http://x.com/a.jpg)"))
	require.NoError(t, err)

	require.Len(t, out.Published, 1)
	assert.False(t, out.Published[0].Adopted, "same title, different url is not our post")
	assert.Len(t, backend.submits, 2)
}

func TestProcess_UnclassifiedFailureAbandonsItem(t *testing.T) {
	backend := &fakeBackend{submitErrs: []error{errBoom}}
	h := newHarness(t, backend, approved("oops"))

	out, err := h.pipeline.Process(context.Background(), editItem("t1_a", 0, "[oops](http://x.com/a.jpg)"))
	require.NoError(t, err)

	assert.Equal(t, StateFailedPermanent, out.State)
	assert.Len(t, backend.submits, 1)
	assert.Empty(t, h.sleeps.waits)
	assert.Empty(t, h.state.urls)
}

func TestProcess_LedgerWriteFailureIsFatal(t *testing.T) {
	h := newHarness(t, &fakeBackend{}, approved("oops"))
	h.state.appendErr = errBoom

	_, err := h.pipeline.Process(context.Background(), editItem("t1_a", 0, "[oops](http://x.com/a.jpg)"))

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvariantViolation)
	assert.ErrorIs(t, err, apperrors.ErrLedgerWrite)
	assert.True(t, h.cp.Value().IsZero(), "checkpoint must not move past an unrecorded publish")
}

func TestProcess_CanceledDuringBackoff(t *testing.T) {
	backend := &fakeBackend{submitErrs: []error{apperrors.ErrServerUnavailable}}
	h := newHarness(t, backend, approved("oops"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.pipeline.Process(ctx, editItem("t1_a", 0, "[oops](http://x.com/a.jpg)"))

	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.state.urls)
}

func TestProcess_Filtering(t *testing.T) {
	tests := []struct {
		name       string
		item       domain.InboundItem
		wantState  State
		wantReason string
	}{
		{
			name:       "ignored channel",
			item:       domain.InboundItem{ID: "1", Channel: "r/Spam", CreatedAt: baseTime, Body: "[oops](http://x.com/a.jpg)"},
			wantState:  StateFilteredOut,
			wantReason: filters.ReasonIgnoredChannel,
		},
		{
			name:       "template marker",
			item:       domain.InboundItem{ID: "2", Channel: "pics", CreatedAt: baseTime, Body: "[TEMPLATE] [oops](http://x.com/a.jpg)"},
			wantState:  StateFilteredOut,
			wantReason: filters.ReasonTemplate,
		},
		{
			name:       "anchor not approved",
			item:       domain.InboundItem{ID: "3", Channel: "pics", CreatedAt: baseTime, Body: "[source](http://x.com/a.jpg)"},
			wantState:  StateFilteredOut,
			wantReason: filters.ReasonNoCandidate,
		},
		{
			name:       "not an image",
			item:       domain.InboundItem{ID: "4", Channel: "pics", CreatedAt: baseTime, Body: "[oops](http://x.com/a.pdf)"},
			wantState:  StateFilteredOut,
			wantReason: filters.ReasonNoCandidate,
		},
		{
			name:       "malformed markup",
			item:       domain.InboundItem{ID: "5", Channel: "pics", CreatedAt: baseTime, Body: "[oops(http://x.com/a.jpg"},
			wantState:  StateFilteredOut,
			wantReason: filters.ReasonNoCandidate,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := approved("oops")
			snapshot.IgnoredChannels["spam"] = struct{}{}

			h := newHarness(t, &fakeBackend{}, snapshot)

			out, err := h.pipeline.Process(context.Background(), tt.item)
			require.NoError(t, err)

			assert.Equal(t, tt.wantState, out.State)
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Empty(t, h.backend.submits)
		})
	}
}

func TestProcess_CommentParentAndNSFW(t *testing.T) {
	backend := &fakeBackend{
		parent: domain.CommentParent{
			Body:           "Draw me [like this](http://example.com/x.png)",
			Author:         "someone",
			SubmissionNSFW: true,
			Permalink:      "https://reddit.com/r/pics/comments/p1/_/c1/",
		},
	}
	h := newHarness(t, backend, approved("oops"))

	item := editItem("t1_a", 0, "EDIT: [oops](https://i.redd.it/xyz.png)")
	item.IsRoot = false

	out, err := h.pipeline.Process(context.Background(), item)
	require.NoError(t, err)

	assert.Equal(t, StateContextPosted, out.State)
	require.Len(t, backend.submits, 1)
	assert.Equal(t, "EDIT to someone", backend.submits[0].Title)
	assert.Len(t, backend.nsfw, 1)
	require.Len(t, backend.replies, 1)
	assert.Contains(t, backend.replies[0], "[Context for the post: Draw me like this](https://reddit.com/r/pics/comments/p1/_/c1/)")
	assert.Contains(t, backend.replies[0], nsfwBanner)
	assert.Contains(t, backend.replies[0], "/u/someone")
}

func TestProcess_MultipleCandidatesInBodyOrder(t *testing.T) {
	backend := &fakeBackend{}
	h := newHarness(t, backend, approved("oops", "edit"))

	body := "[oops](http://x.com/1.jpg) and [edit](http://x.com/2.gif) and again [oops](http://x.com/1.jpg)"

	out, err := h.pipeline.Process(context.Background(), editItem("t1_a", 0, body))
	require.NoError(t, err)

	assert.Equal(t, StateContextPosted, out.State)
	require.Len(t, backend.submits, 2)
	assert.Equal(t, "http://x.com/1.jpg", backend.submits[0].URL)
	assert.Equal(t, "http://x.com/2.gif", backend.submits[1].URL)
	assert.Equal(t, []string{"http://x.com/1.jpg", "http://x.com/2.gif"}, h.state.urls)
	assert.Len(t, backend.replies, 2)
}

func TestProcess_ResolveParentErrors(t *testing.T) {
	t.Run("transient error asks for replay", func(t *testing.T) {
		h := newHarness(t, &fakeBackend{parentErr: apperrors.ErrServerUnavailable}, approved("oops"))

		out, err := h.pipeline.Process(context.Background(), editItem("t1_a", 0, "[oops](http://x.com/a.jpg)"))

		require.ErrorIs(t, err, apperrors.ErrServerUnavailable)
		assert.Equal(t, StateCandidateFound, out.State)
		assert.False(t, out.State.Terminal())
		assert.True(t, h.cp.Value().IsZero())
	})

	t.Run("unclassified error fails the item", func(t *testing.T) {
		h := newHarness(t, &fakeBackend{parentErr: errBoom}, approved("oops"))

		out, err := h.pipeline.Process(context.Background(), editItem("t1_a", 0, "[oops](http://x.com/a.jpg)"))

		require.NoError(t, err)
		assert.Equal(t, StateFailedPermanent, out.State)
		assert.Empty(t, h.backend.submits)
	})
}

func TestSyncDestination(t *testing.T) {
	backend := &fakeBackend{
		recent: []domain.RecentPost{
			{Title: "someone else", URL: "http://x.com/a.jpg", Ref: domain.SubmissionRef{ID: "t3_z"}},
			{Title: "self post"},
		},
	}
	h := newHarness(t, backend, approved("oops"))

	require.NoError(t, h.pipeline.SyncDestination(context.Background()))
	assert.Equal(t, 1, h.pipeline.KnownURLs())

	out, err := h.pipeline.Process(context.Background(), editItem("t1_a", 0, "[oops](http://x.com/a.jpg)"))
	require.NoError(t, err)

	assert.Equal(t, StateDupSkipped, out.State)
	assert.Empty(t, backend.submits)
	assert.Empty(t, h.state.urls, "destination urls are never written to the ledger")

	backend.recentErr = errBoom
	assert.ErrorIs(t, h.pipeline.SyncDestination(context.Background()), errBoom)
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateFilteredOut, StateDupSkipped, StateContextPosted, StateFailedPermanent} {
		assert.True(t, s.Terminal(), s)
	}

	for _, s := range []State{StateReceived, StateCandidateFound, StatePublishing, StatePublished} {
		assert.False(t, s.Terminal(), s)
	}
}
