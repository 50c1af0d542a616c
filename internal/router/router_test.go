package router

import (
	"context"
	"strings"
	"sync"
	"testing"

	"childebot/internal/dispatch"
	"childebot/internal/schedule"
	"childebot/internal/store"
	kit "childebot/internal/transport"
	logx "childebot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	replies []string
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error                    { return nil }

func (a *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, text)
	return kit.MessageRef{}, nil
}

func (a *fakeAdapter) lastReply() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.replies) == 0 {
		return ""
	}
	return a.replies[len(a.replies)-1]
}

type nullGateway struct{}

func (nullGateway) Deliver(context.Context, string, string) error { return nil }

func newTestRouter(t *testing.T, cfg Config) (*Router, *fakeAdapter, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	engine := dispatch.New(dispatch.Config{Enabled: true, RatePerSec: 1000},
		st, nullGateway{}, schedule.System(), nil, logx.Nop())
	ad := &fakeAdapter{}
	return New(cfg, engine, ad, logx.Nop()), ad, st
}

func msg(chatID, fromID int64, text string) kit.Message {
	return kit.Message{ChatID: chatID, FromID: fromID, Text: text}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in       string
		wantName string
		wantArgs string
		wantOK   bool
	}{
		{"/addquestion what is love?", "addquestion", "what is love?", true},
		{"/status", "status", "", true},
		{"/listquestions@childebot 2", "listquestions", "2", true},
		{"/SETDAILY 09:00", "setdaily", "09:00", true},
		{"plain text", "", "", false},
		{"/", "", "", false},
		{"  /help  ", "help", " ", true},
	}
	for _, tc := range cases {
		name, args, ok := parseCommand(tc.in)
		if ok != tc.wantOK || name != tc.wantName {
			t.Errorf("parseCommand(%q) = (%q, %q, %v), want (%q, _, %v)",
				tc.in, name, args, ok, tc.wantName, tc.wantOK)
		}
		if ok && strings.TrimSpace(args) != strings.TrimSpace(tc.wantArgs) {
			t.Errorf("parseCommand(%q) args = %q, want %q", tc.in, args, tc.wantArgs)
		}
	}
}

func TestAddAndListFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, ad, _ := newTestRouter(t, Config{})

	r.handleMessage(ctx, msg(42, 7, "/addquestion what is your favorite book?"))
	if got := ad.lastReply(); !strings.Contains(got, "Added question #1") {
		t.Fatalf("add reply = %q", got)
	}

	r.handleMessage(ctx, msg(42, 7, "/listquestions"))
	got := ad.lastReply()
	if !strings.Contains(got, "page 1/1") || !strings.Contains(got, "1. what is your favorite book?") {
		t.Fatalf("list reply = %q", got)
	}
}

func TestListPaginationNumbering(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, ad, _ := newTestRouter(t, Config{})

	for i := 0; i < 30; i++ {
		r.handleMessage(ctx, msg(42, 7, "/addquestion question number "+strings.Repeat("x", i+1)))
	}

	r.handleMessage(ctx, msg(42, 7, "/listquestions 2"))
	got := ad.lastReply()
	if !strings.Contains(got, "page 2/2") || !strings.Contains(got, "30 total") {
		t.Fatalf("page header = %q", got)
	}
	// Numbering continues across pages.
	if !strings.Contains(got, "26. ") {
		t.Fatalf("expected item 26 on page 2, got %q", got)
	}
	if strings.Contains(got, "25. ") {
		t.Fatalf("item 25 belongs on page 1, got %q", got)
	}
}

func TestAdminGating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, ad, st := newTestRouter(t, Config{AdminUserIDs: []int64{7}})

	// Non-admin cannot change settings.
	r.handleMessage(ctx, msg(42, 99, "/setchannel"))
	if got := ad.lastReply(); got != "You are not allowed to do that." {
		t.Fatalf("non-admin reply = %q", got)
	}
	if _, ok, _ := st.GetConfig(ctx, store.TenantID("42")); ok {
		t.Fatal("non-admin command must not touch storage")
	}

	// Admin can.
	r.handleMessage(ctx, msg(42, 7, "/setchannel"))
	cfg, ok, _ := st.GetConfig(ctx, store.TenantID("42"))
	if !ok || cfg.Destination != "42" {
		t.Fatalf("config after /setchannel = (%+v, %v)", cfg, ok)
	}

	// Anyone may add questions.
	r.handleMessage(ctx, msg(42, 99, "/addquestion open to all"))
	if got := ad.lastReply(); !strings.Contains(got, "Added question") {
		t.Fatalf("non-admin add reply = %q", got)
	}
}

func TestScheduleCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, ad, st := newTestRouter(t, Config{})
	tenant := store.TenantID("42")

	r.handleMessage(ctx, msg(42, 7, "/setdaily 09:30 Europe/Prague"))
	cfg, _, _ := st.GetConfig(ctx, tenant)
	if cfg.Policy.Kind != store.PolicyDaily || cfg.Policy.Hour != 9 || cfg.Policy.Minute != 30 {
		t.Fatalf("policy after /setdaily = %+v", cfg.Policy)
	}

	r.handleMessage(ctx, msg(42, 7, "/setevery 6"))
	cfg, _, _ = st.GetConfig(ctx, tenant)
	if cfg.Policy.Kind != store.PolicyEvery || cfg.Policy.EveryHours != 6 {
		t.Fatalf("policy after /setevery = %+v", cfg.Policy)
	}

	r.handleMessage(ctx, msg(42, 7, "/setdaily 25:00"))
	if got := ad.lastReply(); !strings.Contains(got, "Invalid input") {
		t.Fatalf("bad time reply = %q", got)
	}
	cfg, _, _ = st.GetConfig(ctx, tenant)
	if cfg.Policy.Kind != store.PolicyEvery {
		t.Fatal("rejected /setdaily must not overwrite the policy")
	}
}

func TestSendNowWithEmptyQueueReplies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, ad, _ := newTestRouter(t, Config{})

	r.handleMessage(ctx, msg(42, 7, "/setchannel"))
	r.handleMessage(ctx, msg(42, 7, "/sendqotd"))
	if got := ad.lastReply(); !strings.Contains(got, "queue is empty") {
		t.Fatalf("empty queue reply = %q", got)
	}
}

func TestStatusForUnconfiguredChat(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, ad, _ := newTestRouter(t, Config{})

	r.handleMessage(ctx, msg(42, 7, "/status"))
	if got := ad.lastReply(); !strings.Contains(got, "not set up yet") {
		t.Fatalf("status reply = %q", got)
	}
}

func TestOnOffCommands(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, _, st := newTestRouter(t, Config{})
	tenant := store.TenantID("42")

	r.handleMessage(ctx, msg(42, 7, "/qotdoff"))
	cfg, _, _ := st.GetConfig(ctx, tenant)
	if cfg.Enabled {
		t.Fatal("expected disabled after /qotdoff")
	}
	r.handleMessage(ctx, msg(42, 7, "/qotdon"))
	cfg, _, _ = st.GetConfig(ctx, tenant)
	if !cfg.Enabled {
		t.Fatal("expected enabled after /qotdon")
	}
}

func TestUnknownCommandIsIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	r, ad, _ := newTestRouter(t, Config{})

	r.handleMessage(ctx, msg(42, 7, "/definitelynotacommand"))
	if got := ad.lastReply(); got != "" {
		t.Fatalf("unknown command reply = %q, want silence", got)
	}
}
