package router

import (
	"context"
	"errors"
	"sync"
	"testing"

	"spotbot/internal/transport"
	"spotbot/pkg/logx"
)

type fakeResolver struct {
	elevated bool
	err      error
	calls    int
}

func (f *fakeResolver) HasElevated(context.Context, transport.Principal) (bool, error) {
	f.calls++
	return f.elevated, f.err
}

type fakeResponder struct {
	mu        sync.Mutex
	replies   []string
	followups []string
}

func (f *fakeResponder) Reply(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeResponder) FollowUp(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followups = append(f.followups, text)
	return nil
}

func (f *fakeResponder) Replied() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replies) > 0
}

func (f *fakeResponder) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.replies) + len(f.followups)
}

func interaction(cmd string, resp *fakeResponder) transport.Interaction {
	return transport.Interaction{
		Command:   cmd,
		Principal: transport.Principal{UserID: 7, ChatID: 42},
		Respond:   resp,
	}
}

func TestRegisterDuplicateFails(t *testing.T) {
	t.Parallel()
	r := New(&fakeResolver{}, logx.Nop())
	h := func(context.Context, *Request) error { return nil }
	if err := r.Register(Command{Name: "post", Handle: h}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(Command{Name: "post", Handle: h}); err == nil {
		t.Fatal("duplicate register did not fail")
	}
}

func TestDispatchUnknownCommandIsSilent(t *testing.T) {
	t.Parallel()
	r := New(&fakeResolver{}, logx.Nop())
	resp := &fakeResponder{}
	r.Dispatch(context.Background(), interaction("ghost", resp))
	if resp.total() != 0 {
		t.Fatalf("unknown command produced %d responses, want 0", resp.total())
	}
}

func TestDispatchPermissionFailClosed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		resolver *fakeResolver
	}{
		{name: "denied", resolver: &fakeResolver{elevated: false}},
		{name: "unresolvable", resolver: &fakeResolver{elevated: true, err: errors.New("lookup down")}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := New(tt.resolver, logx.Nop())
			ran := false
			_ = r.Register(Command{Name: "post", Elevated: true, Handle: func(context.Context, *Request) error {
				ran = true
				return nil
			}})

			resp := &fakeResponder{}
			r.Dispatch(context.Background(), interaction("post", resp))

			if ran {
				t.Fatal("handler executed despite failed permission check")
			}
			if len(resp.replies) != 1 || resp.replies[0] != deniedReply {
				t.Fatalf("replies = %v, want a single denial", resp.replies)
			}
		})
	}
}

func TestDispatchHandlerErrorSingleFailureAck(t *testing.T) {
	t.Parallel()
	r := New(&fakeResolver{elevated: true}, logx.Nop())
	_ = r.Register(Command{Name: "post", Handle: func(context.Context, *Request) error {
		return errors.New("boom")
	}})

	resp := &fakeResponder{}
	r.Dispatch(context.Background(), interaction("post", resp))

	if resp.total() != 1 {
		t.Fatalf("responses = %d, want exactly 1 failure ack", resp.total())
	}
	if resp.replies[0] != failureReply {
		t.Fatalf("reply = %q, want failure ack", resp.replies[0])
	}
}

func TestDispatchHandlerErrorAfterReplyUsesFollowUp(t *testing.T) {
	t.Parallel()
	r := New(&fakeResolver{}, logx.Nop())
	_ = r.Register(Command{Name: "post", Handle: func(ctx context.Context, req *Request) error {
		_ = req.Interaction.Respond.Reply(ctx, "working on it")
		return errors.New("boom")
	}})

	resp := &fakeResponder{}
	r.Dispatch(context.Background(), interaction("post", resp))

	if len(resp.replies) != 1 {
		t.Fatalf("replies = %v, want only the handler's own reply", resp.replies)
	}
	if len(resp.followups) != 1 || resp.followups[0] != failureReply {
		t.Fatalf("followups = %v, want a single failure follow-up", resp.followups)
	}
}

func TestDispatchPanicBecomesFailureAck(t *testing.T) {
	t.Parallel()
	r := New(&fakeResolver{}, logx.Nop())
	_ = r.Register(Command{Name: "post", Handle: func(context.Context, *Request) error {
		panic("handler bug")
	}})

	resp := &fakeResponder{}
	r.Dispatch(context.Background(), interaction("post", resp))
	if resp.total() != 1 || resp.replies[0] != failureReply {
		t.Fatalf("panic should produce exactly one failure ack, got %v / %v", resp.replies, resp.followups)
	}
}

func TestDispatchAutoAck(t *testing.T) {
	t.Parallel()
	r := New(&fakeResolver{elevated: true}, logx.Nop())
	_ = r.Register(
		Command{Name: "quiet", AutoAck: true, Handle: func(context.Context, *Request) error { return nil }},
		Command{Name: "talky", AutoAck: true, Handle: func(ctx context.Context, req *Request) error {
			return req.Interaction.Respond.Reply(ctx, "here you go")
		}},
	)

	quiet := &fakeResponder{}
	r.Dispatch(context.Background(), interaction("quiet", quiet))
	if len(quiet.replies) != 1 || quiet.replies[0] != doneReply {
		t.Fatalf("quiet replies = %v, want [%q]", quiet.replies, doneReply)
	}

	// A handler that already replied must not get a second "Done!".
	talky := &fakeResponder{}
	r.Dispatch(context.Background(), interaction("talky", talky))
	if talky.total() != 1 || talky.replies[0] != "here you go" {
		t.Fatalf("talky responses = %v / %v, want only the handler reply", talky.replies, talky.followups)
	}
}

func TestDispatchNonElevatedSkipsResolver(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{}
	r := New(res, logx.Nop())
	_ = r.Register(Command{Name: "help", Handle: func(context.Context, *Request) error { return nil }})

	r.Dispatch(context.Background(), interaction("help", &fakeResponder{}))
	if res.calls != 0 {
		t.Fatalf("resolver called %d times for a non-elevated command", res.calls)
	}
}
