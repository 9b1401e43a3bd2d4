package router

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"spotbot/internal/transport"
	"spotbot/pkg/logx"
)

const (
	deniedReply  = "You need elevated permissions for that."
	failureReply = "Something went wrong running that command."
	doneReply    = "Done!"
)

// Command describes one registered command.
type Command struct {
	Name        string
	Description string
	Elevated    bool          // requires the permission resolver to say yes
	AutoAck     bool          // reply "Done!" after a silent successful handler
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// Request is what handlers receive.
type Request struct {
	Interaction transport.Interaction
	Log         logx.Logger
}

// Router dispatches inbound interactions to registered commands.
//
// The command set is register-once: Register fails after Start, so the
// mapping is immutable for the process lifetime once dispatching begins.
type Router struct {
	resolver       transport.PermissionResolver
	log            logx.Logger
	defaultTimeout time.Duration

	mu       sync.Mutex
	commands map[string]Command
	started  atomic.Bool

	wg sync.WaitGroup
}

func New(resolver transport.PermissionResolver, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		resolver:       resolver,
		log:            log,
		defaultTimeout: 30 * time.Second,
		commands:       map[string]Command{},
	}
}

// Register adds commands. Duplicate names and post-Start registration are
// startup bugs and fail hard.
func (r *Router) Register(cmds ...Command) error {
	if r.started.Load() {
		return fmt.Errorf("command registration after start")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			return fmt.Errorf("command %q is missing a name or handler", c.Name)
		}
		if _, dup := r.commands[c.Name]; dup {
			return fmt.Errorf("command %q registered twice", c.Name)
		}
		r.commands[c.Name] = c
	}
	return nil
}

// Commands returns the registered set sorted by name (for help output).
func (r *Router) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start consumes interactions until ctx is done. Each interaction is
// dispatched on its own goroutine so a slow handler never blocks the feed.
func (r *Router) Start(ctx context.Context, in <-chan transport.Interaction) {
	r.started.Store(true)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case it, ok := <-in:
				if !ok {
					return
				}
				r.wg.Add(1)
				go func() {
					defer r.wg.Done()
					r.Dispatch(ctx, it)
				}()
			}
		}
	}()
}

// Wait blocks until the dispatch loop and in-flight handlers finish.
func (r *Router) Wait() { r.wg.Wait() }

// Dispatch routes one interaction.
//
// Unknown commands are ignored silently: stale command registrations on the
// platform side routinely reach instances that no longer know them.
func (r *Router) Dispatch(ctx context.Context, in transport.Interaction) {
	r.mu.Lock()
	cmd, ok := r.commands[in.Command]
	r.mu.Unlock()
	if !ok {
		r.log.Debug("ignoring unknown command", logx.String("cmd", in.Command))
		return
	}

	log := r.log.With(logx.String("cmd", cmd.Name))

	if cmd.Elevated && !r.allowed(ctx, in.Principal, log) {
		r.respond(ctx, in, deniedReply, log)
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	handle := Chain(cmd.Handle,
		MWTimeout(timeout),
		MWRequestLog(log),
		MWPanicRecover(log),
	)

	req := &Request{Interaction: in, Log: log}
	if err := handle(ctx, req); err != nil {
		r.respond(ctx, in, failureReply, log)
		return
	}

	if cmd.AutoAck && !in.Respond.Replied() {
		if err := in.Respond.Reply(ctx, doneReply); err != nil {
			log.Warn("could not send ack", logx.Err(err))
		}
	}
}

// allowed resolves the elevated-permission check. An unresolvable principal
// counts as "lacks permission" (fail closed).
func (r *Router) allowed(ctx context.Context, p transport.Principal, log logx.Logger) bool {
	if r.resolver == nil {
		return false
	}
	ok, err := r.resolver.HasElevated(ctx, p)
	if err != nil {
		log.Warn("permission lookup failed, denying",
			logx.Int64("user", p.UserID),
			logx.Err(err),
		)
		return false
	}
	return ok
}

// respond sends exactly one user-visible fallback: a reply if nothing has
// been sent for this interaction yet, a follow-up otherwise.
func (r *Router) respond(ctx context.Context, in transport.Interaction, text string, log logx.Logger) {
	var err error
	if in.Respond.Replied() {
		err = in.Respond.FollowUp(ctx, text)
	} else {
		err = in.Respond.Reply(ctx, text)
	}
	if err != nil {
		log.Warn("could not deliver response", logx.Err(err))
	}
}
