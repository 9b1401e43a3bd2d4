package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"spotbot/internal/router"
	"spotbot/internal/scheduler"
	"spotbot/internal/storage"
	"spotbot/internal/transport"
	"spotbot/pkg/logx"
)

type okResolver struct{}

func (okResolver) HasElevated(context.Context, transport.Principal) (bool, error) { return true, nil }

type recordingResponder struct {
	mu        sync.Mutex
	replies   []string
	followups []string
}

func (r *recordingResponder) Reply(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, text)
	return nil
}

func (r *recordingResponder) FollowUp(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.followups = append(r.followups, text)
	return nil
}

func (r *recordingResponder) Replied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.replies) > 0
}

func (r *recordingResponder) lastReply() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1]
}

type harness struct {
	store  storage.Store
	sched  *scheduler.Service
	router *router.Router
	runs   chan string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: storage.NewMemory(), runs: make(chan string, 16)}
	h.sched = scheduler.New(h.store, func(_ context.Context, tn storage.Tenant) error {
		h.runs <- tn.ID
		return nil
	}, nil, logx.Nop())
	t.Cleanup(h.sched.Stop)

	h.router = router.New(okResolver{}, logx.Nop())
	if err := Register(h.router, Deps{Store: h.store, Sched: h.sched, Log: logx.Nop()}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return h
}

func (h *harness) dispatch(t *testing.T, chatID int64, command string, args ...string) *recordingResponder {
	t.Helper()
	resp := &recordingResponder{}
	h.router.Dispatch(context.Background(), transport.Interaction{
		Command:   command,
		Args:      args,
		Principal: transport.Principal{UserID: 1, ChatID: chatID},
		Respond:   resp,
	})
	return resp
}

func (h *harness) waitRun(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-h.runs:
		if got != want {
			t.Fatalf("ran tenant %s, want %s", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no run for tenant %s", want)
	}
}

func TestConfigureCreatesTenantAndStartsJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp := h.dispatch(t, -100, "configure",
		"project=proj-7", "channel=-100", "schedule=30", "*", "*", "*", "*")
	if !strings.HasPrefix(resp.lastReply(), "Saved.") {
		t.Fatalf("configure reply = %q", resp.lastReply())
	}

	tn, err := h.store.FindTenant(context.Background(), "-100")
	if err != nil {
		t.Fatalf("tenant not stored: %v", err)
	}
	if tn.ProjectID != "proj-7" || tn.Schedule != "30 * * * *" || !tn.Enabled {
		t.Fatalf("stored tenant = %+v", tn)
	}
	if jobs := h.sched.RunningJobs(); len(jobs) != 1 || jobs[0] != "-100" {
		t.Fatalf("RunningJobs = %v, want [-100] (configure must refresh)", jobs)
	}
}

func TestConfigureRejectsBadInput(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "not key=value", args: []string{"project"}, want: "Could not parse"},
		{name: "missing channel", args: []string{"project=p"}, want: "required"},
		{name: "bad pages", args: []string{"project=p", "channel=c", "pages=lots"}, want: "Could not parse"},
		{name: "bad schedule", args: []string{"project=p", "channel=c", "schedule=whenever"}, want: "Invalid schedule"},
	}
	for _, tt := range tests {
		resp := h.dispatch(t, -1, "configure", tt.args...)
		if !strings.Contains(resp.lastReply(), tt.want) {
			t.Fatalf("%s: reply = %q, want substring %q", tt.name, resp.lastReply(), tt.want)
		}
	}
	if jobs := h.sched.RunningJobs(); len(jobs) != 0 {
		t.Fatalf("bad configure started jobs: %v", jobs)
	}
}

func TestConfigureDisableStopsJob(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.dispatch(t, -5, "configure", "project=p", "channel=c")
	if jobs := h.sched.RunningJobs(); len(jobs) != 1 {
		t.Fatalf("jobs after enable = %v", jobs)
	}
	h.dispatch(t, -5, "configure", "project=p", "channel=c", "enabled=false")
	if jobs := h.sched.RunningJobs(); len(jobs) != 0 {
		t.Fatalf("jobs after disable = %v, want none", jobs)
	}
}

func TestPostRunsInvokingChatTenant(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.dispatch(t, -9, "configure", "project=p", "channel=c")

	resp := h.dispatch(t, -9, "post")
	h.waitRun(t, "-9")
	if resp.lastReply() != "Done!" {
		t.Fatalf("post reply = %q, want auto-ack", resp.lastReply())
	}
}

func TestPostUnknownTenantFails(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	resp := h.dispatch(t, -9, "post", "ghost")
	if resp.lastReply() == "Done!" {
		t.Fatal("post acked for unknown tenant")
	}
	if len(resp.replies) != 1 {
		t.Fatalf("replies = %v, want a single failure ack", resp.replies)
	}
}

func TestPostAllRunsEveryEnabledTenant(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.dispatch(t, -1, "configure", "project=p", "channel=c")
	h.dispatch(t, -2, "configure", "project=p", "channel=c")

	h.dispatch(t, -1, "postall")
	ran := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-h.runs:
			ran[id] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d runs observed", i)
		}
	}
	if !ran["-1"] || !ran["-2"] {
		t.Fatalf("ran = %v, want both tenants", ran)
	}
}

func TestTenantsAndHelpReply(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	resp := h.dispatch(t, -1, "tenants")
	if !strings.Contains(resp.lastReply(), "No tenants configured") {
		t.Fatalf("tenants (empty) reply = %q", resp.lastReply())
	}

	h.dispatch(t, -3, "configure", "project=p", "channel=c")
	resp = h.dispatch(t, -1, "tenants")
	if !strings.Contains(resp.lastReply(), "-3 [on]") {
		t.Fatalf("tenants reply = %q", resp.lastReply())
	}

	resp = h.dispatch(t, -1, "help")
	for _, want := range []string{"/post", "/postall", "/configure", "/tenants", "/help"} {
		if !strings.Contains(resp.lastReply(), want) {
			t.Fatalf("help reply missing %s: %q", want, resp.lastReply())
		}
	}
}
