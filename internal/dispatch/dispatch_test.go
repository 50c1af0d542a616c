package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"childebot/internal/store"
	logx "childebot/pkg/logx"
)

type sentMsg struct {
	Destination string
	Text        string
}

type fakeGateway struct {
	mu      sync.Mutex
	sent    []sentMsg
	failFor map[string]error // destination -> error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failFor: map[string]error{}}
}

func (g *fakeGateway) Deliver(_ context.Context, destination, text string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.failFor[destination]; err != nil {
		return err
	}
	g.sent = append(g.sent, sentMsg{Destination: destination, Text: text})
	return nil
}

func (g *fakeGateway) setFailure(destination string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failFor, destination)
	} else {
		g.failFor[destination] = err
	}
}

func (g *fakeGateway) messages() []sentMsg {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]sentMsg, len(g.sent))
	copy(out, g.sent)
	return out
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

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestEngine(t *testing.T) (*Service, *store.Memory, *fakeGateway, *fakeClock) {
	t.Helper()
	st := store.NewMemory()
	gw := newFakeGateway()
	clock := &fakeClock{now: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	svc := New(Config{
		Enabled:    true,
		RatePerSec: 1000,
		Prefix:     "**Question of the Day:**",
	}, st, gw, clock, nil, logx.Nop())
	return svc, st, gw, clock
}

func setupTenant(t *testing.T, st *store.Memory, tenant store.TenantID, dest string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SetDestination(ctx, tenant, dest))
	require.NoError(t, st.SetPolicy(ctx, tenant, store.TriggerPolicy{Kind: store.PolicyDaily, Hour: 9}))
}

// tickDay walks every minute of one day, like the production loop would.
func tickDay(svc *Service, clock *fakeClock, day time.Time) {
	for m := 0; m < 24*60; m++ {
		now := day.Add(time.Duration(m) * time.Minute)
		clock.set(now)
		svc.Tick(context.Background(), now)
	}
}

func TestDailyDeliversOnePerDayInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")

	for _, q := range []string{"q1", "q2", "q3"} {
		_, err := svc.AddItem(ctx, tenant, q)
		require.NoError(t, err)
	}

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for d := 0; d < 3; d++ {
		tickDay(svc, clock, day.AddDate(0, 0, d))
	}

	msgs := gw.messages()
	require.Len(t, msgs, 3, "exactly one delivery per day")
	assert.Equal(t, "**Question of the Day:** q1", msgs[0].Text)
	assert.Equal(t, "**Question of the Day:** q2", msgs[1].Text)
	assert.Equal(t, "**Question of the Day:** q3", msgs[2].Text)

	items, err := st.ListItems(ctx, tenant)
	require.NoError(t, err)
	assert.Empty(t, items, "delivered items are removed")
}

func TestWindowFiresAtMostOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	_, err := svc.AddItem(ctx, tenant, "q1")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, tenant, "q2")
	require.NoError(t, err)

	// A flood of ticks inside the due minute must not double-send.
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 1000; i++ {
		now := base.Add(time.Duration(i) * 50 * time.Millisecond)
		clock.set(now)
		svc.Tick(ctx, now)
	}

	assert.Len(t, gw.messages(), 1)
}

func TestTagTextIsPrepended(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	require.NoError(t, svc.SetTagText(ctx, tenant, "@everyone"))
	_, err := svc.AddItem(ctx, tenant, "favorite color?")
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock.set(now)
	svc.Tick(ctx, now)

	msgs := gw.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "@everyone **Question of the Day:** favorite color?", msgs[0].Text)
}

func TestDisabledTenantIsInert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	_, err := svc.AddItem(ctx, tenant, "q1")
	require.NoError(t, err)
	require.NoError(t, svc.SetEnabled(ctx, tenant, false))

	tickDay(svc, clock, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	assert.Empty(t, gw.messages())
	items, _ := st.ListItems(ctx, tenant)
	assert.Len(t, items, 1, "queue untouched while disabled")
}

func TestEmptyQueueMarksWindowWithoutDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock.set(now)
	svc.Tick(ctx, now)

	assert.Empty(t, gw.messages())
	last, err := st.LastFired(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "d:2026-03-10", last, "empty window still consumes the slot")
}

func TestFallbackDeliveredWhenQueueEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	require.NoError(t, svc.SetFallbackText(ctx, tenant, "How is everyone feeling today?"))

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock.set(now)
	svc.Tick(ctx, now)

	msgs := gw.messages()
	require.Len(t, msgs, 1)
	// Fallback text goes out as-is, without the question banner.
	assert.Equal(t, "How is everyone feeling today?", msgs[0].Text)
}

func TestFailedDeliveryKeepsItemAndRetriesNextWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	_, err := svc.AddItem(ctx, tenant, "q1")
	require.NoError(t, err)

	gw.setFailure("1001", errors.New("boom"))
	day1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock.set(day1)
	svc.Tick(ctx, day1)

	assert.Empty(t, gw.messages())
	items, _ := st.ListItems(ctx, tenant)
	require.Len(t, items, 1, "failed item stays queued")
	last, _ := st.LastFired(ctx, tenant)
	assert.Equal(t, "d:2026-03-10", last, "window is consumed even on failure")

	// Same window again: no immediate retry storm.
	clock.set(day1.Add(time.Minute))
	svc.Tick(ctx, day1.Add(time.Minute))
	assert.Empty(t, gw.messages())

	// Next window delivers the same item.
	gw.setFailure("1001", nil)
	day2 := day1.AddDate(0, 0, 1)
	clock.set(day2)
	svc.Tick(ctx, day2)

	msgs := gw.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "q1")
}

func TestTenantIsolation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)

	broken := store.TenantID("bad")
	healthy := store.TenantID("good")
	setupTenant(t, st, broken, "666")
	setupTenant(t, st, healthy, "1001")
	_, err := svc.AddItem(ctx, broken, "never arrives")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, healthy, "arrives fine")
	require.NoError(t, err)
	gw.setFailure("666", errors.New("chat deleted"))

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock.set(now)
	svc.Tick(ctx, now)

	msgs := gw.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "1001", msgs[0].Destination)
}

func TestEveryPolicyFiresOnMatchingHours(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	require.NoError(t, st.SetDestination(ctx, tenant, "1001"))
	require.NoError(t, svc.SetEvery(ctx, tenant, 6))
	for _, q := range []string{"a", "b", "c", "d", "e"} {
		_, err := svc.AddItem(ctx, tenant, q)
		require.NoError(t, err)
	}

	tickDay(svc, clock, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	// Slots 00, 06, 12, 18.
	assert.Len(t, gw.messages(), 4)
}

func TestSendNowBypassesSchedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	_, err := svc.AddItem(ctx, tenant, "urgent question")
	require.NoError(t, err)

	// 14:30 is nowhere near the 09:00 schedule; manual send works anyway.
	clock.set(time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC))
	require.NoError(t, svc.SendNow(ctx, tenant))

	msgs := gw.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "urgent question")
	items, _ := st.ListItems(ctx, tenant)
	assert.Empty(t, items)
}

func TestSendNowDrainsQueueInOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, _ := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	for _, q := range []string{"a", "b", "c"} {
		_, err := svc.AddItem(ctx, tenant, q)
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.SendNow(ctx, tenant))
	}

	msgs := gw.messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "**Question of the Day:** a", msgs[0].Text)
	assert.Equal(t, "**Question of the Day:** b", msgs[1].Text)
	assert.Equal(t, "**Question of the Day:** c", msgs[2].Text)
	items, _ := st.ListItems(ctx, tenant)
	assert.Empty(t, items)
}

func TestSendNowRespectsDisabledFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, _ := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	require.NoError(t, svc.SetEnabled(ctx, tenant, false))
	_, err := svc.AddItem(ctx, tenant, "q1")
	require.NoError(t, err)

	err = svc.SendNow(ctx, tenant)
	assert.ErrorIs(t, err, ErrTenantDisabled)
	assert.Empty(t, gw.messages())
	items, _ := st.ListItems(ctx, tenant)
	assert.Len(t, items, 1)
}

func TestSendNowSuppressesScheduledWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	_, err := svc.AddItem(ctx, tenant, "q1")
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, tenant, "q2")
	require.NoError(t, err)

	// Manual send in the morning consumes today's window.
	clock.set(time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	require.NoError(t, svc.SendNow(ctx, tenant))

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock.set(now)
	svc.Tick(ctx, now)

	require.Len(t, gw.messages(), 1, "scheduled run must not double-send")

	// Tomorrow is back to normal.
	next := now.AddDate(0, 0, 1)
	clock.set(next)
	svc.Tick(ctx, next)
	assert.Len(t, gw.messages(), 2)
}

func TestSendNowErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, _, _ := newTestEngine(t)

	err := svc.SendNow(ctx, store.TenantID("unknown"))
	assert.ErrorIs(t, err, ErrNoDestination)

	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	err = svc.SendNow(ctx, tenant)
	assert.ErrorIs(t, err, ErrEmptyQueue)
}

func TestSendNowReportsDeliveryFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, _ := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	_, err := svc.AddItem(ctx, tenant, "q1")
	require.NoError(t, err)
	gw.setFailure("1001", errors.New("boom"))

	err = svc.SendNow(ctx, tenant)
	assert.ErrorIs(t, err, ErrDeliveryFailed)
	items, _ := st.ListItems(ctx, tenant)
	assert.Len(t, items, 1, "failed manual send keeps the item")
}

func TestAddItemValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, _ := newTestEngine(t)
	tenant := store.TenantID("42")

	var verr *ValidationError
	_, err := svc.AddItem(ctx, tenant, "")
	require.ErrorAs(t, err, &verr)
	_, err = svc.AddItem(ctx, tenant, "   \t\n")
	require.ErrorAs(t, err, &verr)

	it, err := svc.AddItem(ctx, tenant, "  padded  ")
	require.NoError(t, err)
	assert.Equal(t, "padded", it.Text, "text is stored trimmed")
}

func TestPolicyValidationThroughAPI(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, _ := newTestEngine(t)
	tenant := store.TenantID("42")

	var verr *ValidationError
	require.ErrorAs(t, svc.SetDaily(ctx, tenant, 25, 0, ""), &verr)
	require.ErrorAs(t, svc.SetDaily(ctx, tenant, 9, -1, ""), &verr)
	require.ErrorAs(t, svc.SetDaily(ctx, tenant, 9, 0, "Nope/Nowhere"), &verr)
	require.ErrorAs(t, svc.SetEvery(ctx, tenant, 0), &verr)

	require.NoError(t, svc.SetDaily(ctx, tenant, 9, 0, "Europe/Prague"))
	require.NoError(t, svc.SetEvery(ctx, tenant, 12))
}

func TestListPagePagination(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, _, _, _ := newTestEngine(t)
	tenant := store.TenantID("42")

	for i := 0; i < 60; i++ {
		_, err := svc.AddItem(ctx, tenant, "question "+string(rune('a'+i%26))+string(rune('0'+i%10)))
		require.NoError(t, err)
	}

	p1, err := svc.ListPage(ctx, tenant, 1)
	require.NoError(t, err)
	assert.Len(t, p1.Items, PageSize)
	assert.Equal(t, 3, p1.Total)
	assert.Equal(t, 60, p1.Count)

	p3, err := svc.ListPage(ctx, tenant, 3)
	require.NoError(t, err)
	assert.Len(t, p3.Items, 10)

	// Out-of-range pages clamp.
	pLow, err := svc.ListPage(ctx, tenant, -5)
	require.NoError(t, err)
	assert.Equal(t, 1, pLow.Num)
	pHigh, err := svc.ListPage(ctx, tenant, 99)
	require.NoError(t, err)
	assert.Equal(t, 3, pHigh.Num)
}

func TestEngineDisabledGloballyDoesNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := store.NewMemory()
	gw := newFakeGateway()
	clock := &fakeClock{now: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	svc := New(Config{Enabled: false, RatePerSec: 1000}, st, gw, clock, nil, logx.Nop())

	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	_, err := svc.AddItem(ctx, tenant, "q1")
	require.NoError(t, err)

	tickDay(svc, clock, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.Empty(t, gw.messages())
}

func TestStatusSnapshot(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, _, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")
	require.NoError(t, svc.SetTagText(ctx, tenant, "@all"))
	_, err := svc.AddItem(ctx, tenant, "q1")
	require.NoError(t, err)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	clock.set(now)
	svc.Tick(ctx, now)

	stx, err := svc.Status(ctx, tenant)
	require.NoError(t, err)
	assert.True(t, stx.Configured)
	assert.True(t, stx.Enabled)
	assert.Equal(t, "1001", stx.Destination)
	assert.Equal(t, "@all", stx.TagText)
	assert.Equal(t, 0, stx.QueueLen)
	assert.Equal(t, "d:2026-03-10", stx.LastWindow)

	all, err := svc.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, tenant, all[0].Tenant)
}

func TestAuditTrailRecordsCommandsAndDeliveries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc, st, gw, clock := newTestEngine(t)
	tenant := store.TenantID("42")
	setupTenant(t, st, tenant, "1001")

	first, err := svc.AddItem(ctx, tenant, "q1")
	require.NoError(t, err)
	require.NoError(t, svc.SendNow(ctx, tenant))

	_, err = svc.AddItem(ctx, tenant, "q2")
	require.NoError(t, err)
	gw.setFailure("1001", errors.New("flood wait"))
	require.ErrorIs(t, svc.SendNow(ctx, tenant), ErrDeliveryFailed)

	// q2 is still queued; the next scheduled window delivers it.
	gw.setFailure("1001", nil)
	tickDay(svc, clock, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC))

	byAction := map[string][]store.AuditEntry{}
	for _, e := range st.Audits() {
		require.Equal(t, tenant, e.Tenant)
		byAction[e.Action] = append(byAction[e.Action], e)
	}

	adds := byAction["add_item"]
	require.Len(t, adds, 2)
	assert.True(t, adds[0].OK)
	assert.Equal(t, first.ID, adds[0].Detail)

	sends := byAction["send_now"]
	require.Len(t, sends, 2)
	assert.True(t, sends[0].OK)
	assert.False(t, sends[1].OK)
	assert.NotEmpty(t, sends[1].Error)

	delivers := byAction["deliver"]
	require.Len(t, delivers, 1)
	assert.True(t, delivers[0].OK)
}
