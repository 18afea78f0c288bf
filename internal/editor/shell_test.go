package editor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/playpen/internal/buffer"
	"github.com/conneroisu/playpen/internal/composer"
	"github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/keymap"
	"github.com/conneroisu/playpen/internal/persistence"
)

type saveCall struct {
	id      string
	token   string
	src     buffer.Sources
	release chan error
}

type fakeStore struct {
	mu       sync.Mutex
	project  persistence.Project
	loadErr  error
	tokens   []string
	loadGate chan struct{}

	saves chan *saveCall
}

func newFakeStore(p persistence.Project) *fakeStore {
	return &fakeStore{project: p, saves: make(chan *saveCall, 16)}
}

func (f *fakeStore) Load(ctx context.Context, id, token string) (persistence.Project, error) {
	f.mu.Lock()
	f.tokens = append(f.tokens, token)
	gate, p, err := f.loadGate, f.project, f.loadErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return persistence.Project{}, errors.LoadError(id, ctx.Err())
		}
	}
	return p, err
}

func (f *fakeStore) Save(ctx context.Context, id, token string, src buffer.Sources) error {
	call := &saveCall{id: id, token: token, src: src, release: make(chan error)}
	f.saves <- call
	return <-call.release
}

func (f *fakeStore) loadTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

func (f *fakeStore) nextSave(t *testing.T) *saveCall {
	t.Helper()
	select {
	case c := <-f.saves:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected a save request")
		return nil
	}
}

func (f *fakeStore) noSave(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.saves:
		t.Fatalf("unexpected save request: %+v", c.src)
	case <-time.After(50 * time.Millisecond):
	}
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

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingRenderer struct {
	mu   sync.Mutex
	docs []composer.Document
}

func (r *recordingRenderer) Render(doc composer.Document, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs = append(r.docs, doc)
}

func (r *recordingRenderer) last() composer.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.docs) == 0 {
		return ""
	}
	return r.docs[len(r.docs)-1]
}

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	shell    *Shell
	store    *fakeStore
	clock    *fakeClock
	renderer *recordingRenderer

	mu         sync.Mutex
	statuses   []string
	saveErrors []error
}

func (h *harness) seenStatuses() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.statuses...)
}

func (h *harness) seenSaveErrors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.saveErrors...)
}

func newHarness(t *testing.T, p persistence.Project, policy SavePolicy) *harness {
	t.Helper()
	h := &harness{
		store:    newFakeStore(p),
		clock:    &fakeClock{now: t0},
		renderer: &recordingRenderer{},
	}
	h.shell = New(Options{
		ProjectID:  "p1",
		Token:      "T",
		Store:      h.store,
		Renderer:   h.renderer,
		SavePolicy: policy,
		Clock:      h.clock.Now,
		OnChange: func(snap Snapshot) {
			h.mu.Lock()
			h.statuses = append(h.statuses, snap.Status)
			h.mu.Unlock()
		},
		OnSaveError: func(err error) {
			h.mu.Lock()
			h.saveErrors = append(h.saveErrors, err)
			h.mu.Unlock()
		},
	})
	return h
}

func (h *harness) mount(t *testing.T) {
	t.Helper()
	done, err := h.shell.Mount(context.Background())
	require.NoError(t, err)
	waitDone(t, done)
	t.Cleanup(h.shell.Unmount)
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func waitResult(t *testing.T, ch <-chan SaveResult) SaveResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("save result not delivered")
		return SaveResult{}
	}
}

var demo = persistence.Project{
	ID:      "p1",
	Name:    "Demo",
	Sources: buffer.Sources{HTML: "<p>x</p>", CSS: "p{}", JS: ""},
}

func TestMountLoadsProject(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)

	snap := h.shell.Snapshot()
	assert.Equal(t, PhaseLoading, snap.Phase)

	h.mount(t)

	snap = h.shell.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Equal(t, "Demo", snap.Name)
	assert.Equal(t, demo.Sources, snap.Sources)
	assert.False(t, snap.Saving)
	assert.Nil(t, snap.LastSaved)
	assert.Empty(t, snap.Status)
	assert.Equal(t, []string{"T"}, h.store.loadTokens())

	want := composer.Compose("<p>x</p>", "p{}", "")
	assert.Equal(t, want, h.renderer.last())
	assert.Equal(t, want, h.shell.Document())
}

func TestMountTwiceFails(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.mount(t)

	_, err := h.shell.Mount(context.Background())
	assert.True(t, errors.IsValidation(err))
}

func TestLoadFailureFallsBackToUntitled(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.store.loadErr = errors.LoadError("p1", errors.ErrProjectNotFound("p1"))
	h.mount(t)

	snap := h.shell.Snapshot()
	assert.Equal(t, PhaseReady, snap.Phase)
	assert.Equal(t, persistence.DefaultProjectName, snap.Name)
	assert.Equal(t, buffer.Sources{}, snap.Sources)
	assert.Equal(t, "Load failed: project not found", snap.Status)

	require.NoError(t, h.shell.Edit(buffer.Markup, "<p>new</p>"))
}

func TestEmptyProjectNameDefaults(t *testing.T) {
	p := demo
	p.Name = ""
	h := newHarness(t, p, SaveQueue)
	h.mount(t)

	assert.Equal(t, persistence.DefaultProjectName, h.shell.Snapshot().Name)
}

func TestEditRecomposesOnlyThatBuffer(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.mount(t)

	require.NoError(t, h.shell.Edit(buffer.Script, "console.log(1)"))

	snap := h.shell.Snapshot()
	assert.Equal(t, "<p>x</p>", snap.Sources.HTML)
	assert.Equal(t, "p{}", snap.Sources.CSS)
	assert.Equal(t, "console.log(1)", snap.Sources.JS)
	assert.Equal(t, composer.Compose("<p>x</p>", "p{}", "console.log(1)"), h.renderer.last())

	assert.Error(t, h.shell.Edit(buffer.Kind("ts"), "x"))
}

func TestEditBeforeReadyRejected(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.store.loadGate = make(chan struct{})

	done, err := h.shell.Mount(context.Background())
	require.NoError(t, err)
	defer h.shell.Unmount()

	err = h.shell.Edit(buffer.Markup, "early")
	assert.True(t, errors.IsValidation(err))

	res := waitResult(t, h.shell.TriggerSave())
	assert.True(t, res.Skipped)

	close(h.store.loadGate)
	waitDone(t, done)
	assert.Equal(t, PhaseReady, h.shell.Snapshot().Phase)
}

func TestSelect(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.mount(t)

	assert.Equal(t, buffer.Markup, h.shell.Snapshot().Active)
	require.NoError(t, h.shell.Select(buffer.Style))
	assert.Equal(t, buffer.Style, h.shell.Snapshot().Active)
	assert.Error(t, h.shell.Select(buffer.Kind("md")))
}

func TestSaveSendsAllThreeSources(t *testing.T) {
	h := newHarness(t, persistence.Project{Name: "Blank"}, SaveQueue)
	h.mount(t)

	require.NoError(t, h.shell.Edit(buffer.Markup, "<p>y</p>"))
	h.clock.Set(t0.Add(time.Second))

	result := h.shell.TriggerSave()
	snap := h.shell.Snapshot()
	assert.True(t, snap.Saving, "Saving is observable as soon as the trigger returns")
	assert.Equal(t, StatusSaving, snap.Status)

	call := h.store.nextSave(t)
	assert.Equal(t, "p1", call.id)
	assert.Equal(t, "T", call.token)
	assert.Equal(t, buffer.Sources{HTML: "<p>y</p>", CSS: "", JS: ""}, call.src)

	h.clock.Set(t0.Add(2 * time.Second))
	call.release <- nil

	res := waitResult(t, result)
	require.NoError(t, res.Err)

	snap = h.shell.Snapshot()
	assert.False(t, snap.Saving)
	assert.Equal(t, StatusSaved, snap.Status)
	require.NotNil(t, snap.LastSaved)
	assert.False(t, snap.LastSaved.Before(t0.Add(time.Second)))
}

func TestSaveSnapshotsBuffersAtDispatch(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.mount(t)

	result := h.shell.TriggerSave()
	call := h.store.nextSave(t)

	require.NoError(t, h.shell.Edit(buffer.Markup, "<p>later</p>"))
	call.release <- nil
	waitResult(t, result)

	assert.Equal(t, demo.Sources, call.src)
	assert.Equal(t, "<p>later</p>", h.shell.Snapshot().Sources.HTML)
	h.store.noSave(t)
}

func TestSaveFailureKeepsTimestamp(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.mount(t)

	first := h.shell.TriggerSave()
	h.clock.Set(t0.Add(time.Minute))
	h.store.nextSave(t).release <- nil
	waitResult(t, first)

	second := h.shell.TriggerSave()
	h.clock.Set(t0.Add(2 * time.Minute))
	h.store.nextSave(t).release <- errors.SaveError("p1", errors.ErrUnauthorized("expired"))
	res := waitResult(t, second)
	assert.True(t, errors.IsUnauthorized(res.Err))

	snap := h.shell.Snapshot()
	assert.False(t, snap.Saving)
	require.NotNil(t, snap.LastSaved)
	assert.Equal(t, t0.Add(time.Minute), *snap.LastSaved)
	assert.Equal(t, "Save failed: not signed in or session expired", snap.Status)

	h.store.noSave(t)
}

func TestRacePolicyLastResponseWins(t *testing.T) {
	h := newHarness(t, demo, SaveRace)
	h.mount(t)

	a := h.shell.TriggerSave()
	callA := h.store.nextSave(t)
	require.NoError(t, h.shell.Edit(buffer.Style, "b{}"))
	b := h.shell.TriggerSave()
	callB := h.store.nextSave(t)

	snap := h.shell.Snapshot()
	assert.Equal(t, 2, snap.InFlight)
	assert.Equal(t, "b{}", callB.src.CSS)

	h.clock.Set(t0.Add(10 * time.Second))
	callB.release <- nil
	waitResult(t, b)
	assert.True(t, h.shell.Snapshot().Saving, "still saving while A is in flight")

	h.clock.Set(t0.Add(20 * time.Second))
	callA.release <- nil
	waitResult(t, a)

	snap = h.shell.Snapshot()
	assert.False(t, snap.Saving)
	assert.Equal(t, 0, snap.InFlight)
	require.NotNil(t, snap.LastSaved)
	assert.Equal(t, t0.Add(20*time.Second), *snap.LastSaved)
}

func TestQueuePolicyCoalescesFollowUps(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.mount(t)

	a := h.shell.TriggerSave()
	callA := h.store.nextSave(t)

	b := h.shell.TriggerSave()
	require.NoError(t, h.shell.Edit(buffer.Script, "go()"))
	c := h.shell.TriggerSave()

	snap := h.shell.Snapshot()
	assert.True(t, snap.Queued)
	assert.Equal(t, 1, snap.InFlight)
	h.store.noSave(t)

	callA.release <- nil
	waitResult(t, a)

	follow := h.store.nextSave(t)
	assert.Equal(t, "go()", follow.src.JS, "follow-up reads buffers at dispatch")
	assert.True(t, h.shell.Snapshot().Saving)
	follow.release <- nil

	rb, rc := waitResult(t, b), waitResult(t, c)
	assert.False(t, rb.Skipped)
	assert.NoError(t, rb.Err)
	assert.Equal(t, rb, rc)

	assert.False(t, h.shell.Snapshot().Saving)
	h.store.noSave(t)
}

func TestQueuedSaveKeepsEarlierFailureVisible(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.mount(t)

	a := h.shell.TriggerSave()
	callA := h.store.nextSave(t)
	b := h.shell.TriggerSave()

	callA.release <- errors.SaveError("p1", errors.ErrUnauthorized("expired"))
	assert.True(t, errors.IsUnauthorized(waitResult(t, a).Err))

	follow := h.store.nextSave(t)
	assert.Contains(t, h.seenStatuses(), "Save failed: not signed in or session expired")
	saveErrs := h.seenSaveErrors()
	require.Len(t, saveErrs, 1)
	assert.True(t, errors.IsUnauthorized(saveErrs[0]))

	follow.release <- nil
	assert.NoError(t, waitResult(t, b).Err)
	assert.Equal(t, StatusSaved, h.shell.Snapshot().Status)
	assert.Len(t, h.seenSaveErrors(), 1)
}

func TestSaveBeforeReadyReportsError(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.store.loadGate = make(chan struct{})
	done, err := h.shell.Mount(context.Background())
	require.NoError(t, err)
	t.Cleanup(h.shell.Unmount)

	res := waitResult(t, h.shell.TriggerSave())
	assert.True(t, res.Skipped)
	require.Error(t, res.Err)
	saveErrs := h.seenSaveErrors()
	require.Len(t, saveErrs, 1)
	assert.Equal(t, res.Err, saveErrs[0])

	close(h.store.loadGate)
	waitDone(t, done)
	h.store.noSave(t)
}

func TestIgnorePolicyDropsTriggers(t *testing.T) {
	h := newHarness(t, demo, SaveIgnore)
	h.mount(t)

	a := h.shell.TriggerSave()
	call := h.store.nextSave(t)

	res := waitResult(t, h.shell.TriggerSave())
	assert.True(t, res.Skipped)
	h.store.noSave(t)

	call.release <- nil
	waitResult(t, a)
}

func TestShortcutTriggersExactlyOneSave(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.mount(t)

	assert.False(t, h.shell.HandleKey(keymap.Event{Key: "s"}))
	h.store.noSave(t)

	assert.True(t, h.shell.HandleKey(keymap.Event{Key: "s", Meta: true}))
	call := h.store.nextSave(t)
	h.store.noSave(t)
	call.release <- nil
}

func TestUnmountReleasesShortcutAndFreezesState(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)

	var mu sync.Mutex
	changes := 0
	h.shell.opts.OnChange = func(Snapshot) {
		mu.Lock()
		changes++
		mu.Unlock()
	}

	done, err := h.shell.Mount(context.Background())
	require.NoError(t, err)
	waitDone(t, done)
	assert.Equal(t, 1, h.shell.Keys().Len())

	result := h.shell.TriggerSave()
	call := h.store.nextSave(t)

	h.shell.Unmount()
	h.shell.Unmount()
	assert.Equal(t, 0, h.shell.Keys().Len())
	assert.False(t, h.shell.HandleKey(keymap.Event{Key: "s", Ctrl: true}))

	mu.Lock()
	before := changes
	mu.Unlock()

	call.release <- nil
	res := waitResult(t, result)
	assert.NoError(t, res.Err, "the request still completes")

	mu.Lock()
	assert.Equal(t, before, changes)
	mu.Unlock()

	snap := h.shell.Snapshot()
	assert.Nil(t, snap.LastSaved)
	assert.Equal(t, StatusSaving, snap.Status)
	assert.False(t, snap.Mounted)

	assert.Error(t, h.shell.Edit(buffer.Markup, "x"))
}

func TestUnmountCancelsLoad(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.store.loadGate = make(chan struct{})

	done, err := h.shell.Mount(context.Background())
	require.NoError(t, err)
	h.shell.Unmount()

	waitDone(t, done)
	snap := h.shell.Snapshot()
	assert.Equal(t, PhaseLoading, snap.Phase)
	assert.Empty(t, snap.Name)
}

func TestSetTokenReloads(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.mount(t)

	waitDone(t, h.shell.SetToken("T"))
	assert.Equal(t, []string{"T"}, h.store.loadTokens())

	h.store.mu.Lock()
	h.store.project.Name = "Renamed"
	h.store.mu.Unlock()

	waitDone(t, h.shell.SetToken("T2"))
	assert.Equal(t, []string{"T", "T2"}, h.store.loadTokens())
	assert.Equal(t, "Renamed", h.shell.Snapshot().Name)

	result := h.shell.TriggerSave()
	call := h.store.nextSave(t)
	assert.Equal(t, "T2", call.token)
	call.release <- nil
	waitResult(t, result)
}

func TestReloadFailureKeepsBuffers(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.mount(t)
	require.NoError(t, h.shell.Edit(buffer.Markup, "<p>mine</p>"))

	h.store.mu.Lock()
	h.store.loadErr = errors.LoadError("p1", errors.ErrUnauthorized("bad token"))
	h.store.mu.Unlock()

	waitDone(t, h.shell.SetToken(""))
	snap := h.shell.Snapshot()
	assert.Equal(t, "<p>mine</p>", snap.Sources.HTML)
	assert.Equal(t, "Demo", snap.Name)
	assert.Equal(t, "Load failed: not signed in or session expired", snap.Status)
}

func TestApplyExternalIgnoresOwnEcho(t *testing.T) {
	h := newHarness(t, demo, SaveQueue)
	h.mount(t)

	require.NoError(t, h.shell.Edit(buffer.Markup, "<p>typing</p>"))

	changed, err := h.shell.ApplyExternal(demo.Sources)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "<p>typing</p>", h.shell.Snapshot().Sources.HTML)

	disk := demo.Sources
	disk.CSS = "p{color:blue}"
	changed, err = h.shell.ApplyExternal(disk)
	require.NoError(t, err)
	assert.True(t, changed)

	snap := h.shell.Snapshot()
	assert.Equal(t, "p{color:blue}", snap.Sources.CSS)
	assert.Equal(t, "<p>typing</p>", snap.Sources.HTML)
	assert.Equal(t, composer.ComposeSources(snap.Sources), h.renderer.last())
}

func TestParseSavePolicy(t *testing.T) {
	p, err := ParseSavePolicy("")
	require.NoError(t, err)
	assert.Equal(t, SaveQueue, p)

	p, err = ParseSavePolicy(" Race ")
	require.NoError(t, err)
	assert.Equal(t, SaveRace, p)

	_, err = ParseSavePolicy("parallel")
	assert.Error(t, err)
}
