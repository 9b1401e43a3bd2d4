// Package telegram adapts the transport interfaces to Telegram via telebot.
// Everything platform-specific (long polling, chat resolution, admin
// lookups, caption rendering) stays behind this package.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"spotbot/internal/transport"
	"spotbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	out atomic.Value // stores chan<- transport.Interaction

	runMu   sync.Mutex
	running bool

	stopOnce sync.Once

	dropped atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Initialize atomic.Value with a stable dynamic type.
	var nilOut chan<- transport.Interaction
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		name, args, ok := parseCommand(m.Text)
		if !ok {
			return nil
		}
		in := transport.Interaction{
			Command: name,
			Args:    args,
			Principal: transport.Principal{
				UserID:   m.Sender.ID,
				Username: m.Sender.Username,
				ChatID:   m.Chat.ID,
			},
			Respond: &responder{adapter: a, origin: m},
		}
		a.deliver(in)
		return nil
	})
}

// parseCommand splits "/post@spotbot arg1 arg2" into name and args.
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	name := fields[0]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

func (a *Adapter) deliver(in transport.Interaction) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Interaction)
	if out == nil {
		return
	}
	select {
	case out <- in:
	default:
		// Consumer slower than the poll loop; drop rather than block telebot.
		if n := a.dropped.Add(1); n%50 == 1 {
			a.log.Warn("interactions dropped, consumer too slow", logx.Any("count", n))
		}
	}
}

// Start begins long polling and feeds interactions into out until ctx ends.
func (a *Adapter) Start(ctx context.Context, out chan<- transport.Interaction) error {
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.runMu.Unlock()

	go func() {
		<-ctx.Done()
		a.stopBot()
	}()
	go func() {
		a.log.Info("telegram polling started")
		a.bot.Start() // blocks until Stop
		a.log.Info("telegram polling stopped")
	}()
	return nil
}

func (a *Adapter) Stop(context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	var nilOut chan<- transport.Interaction
	a.out.Store(nilOut)
	a.runMu.Unlock()
	if wasRunning {
		a.stopBot()
	}
	return nil
}

// stopBot halts long polling exactly once. telebot's Stop sends on an
// unbuffered channel the Start loop receives a single time, so a second
// call (ctx cancel racing an explicit Stop) would block forever.
func (a *Adapter) stopBot() {
	a.stopOnce.Do(a.bot.Stop)
}

// resolveChat maps a channel reference to a telebot recipient. Numeric ids
// resolve locally; "@name" references go through the API.
func (a *Adapter) resolveChat(channel string) (tele.Recipient, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, transport.ErrChannelNotFound
	}
	if id, err := strconv.ParseInt(channel, 10, 64); err == nil {
		return &tele.Chat{ID: id}, nil
	}
	chat, err := a.bot.ChatByUsername(channel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", transport.ErrChannelNotFound, channel, err)
	}
	return chat, nil
}

// SendToChannel implements transport.Publisher.
func (a *Adapter) SendToChannel(_ context.Context, channel string, c transport.Content) error {
	chat, err := a.resolveChat(channel)
	if err != nil {
		return err
	}

	caption := renderCaption(c)
	if c.ImageURL == "" {
		_, err = a.bot.Send(chat, caption)
		return err
	}
	_, err = a.bot.Send(chat, &tele.Photo{
		File:    tele.FromURL(c.ImageURL),
		Caption: caption,
	})
	return err
}

func renderCaption(c transport.Content) string {
	var b strings.Builder
	b.WriteString(c.Text)
	for _, f := range c.Fields {
		b.WriteString("\n")
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return b.String()
}

// HasElevated implements transport.PermissionResolver: elevated means the
// principal administers the chat the interaction came from.
func (a *Adapter) HasElevated(_ context.Context, p transport.Principal) (bool, error) {
	chat := &tele.Chat{ID: p.ChatID}
	admins, err := a.bot.AdminsOf(chat)
	if err != nil {
		return false, fmt.Errorf("resolving admins of chat %d: %w", p.ChatID, err)
	}
	for _, m := range admins {
		if m.User != nil && m.User.ID == p.UserID {
			return true, nil
		}
	}
	return false, nil
}

type responder struct {
	adapter *Adapter
	origin  *tele.Message
	replied atomic.Bool
}

func (r *responder) Reply(_ context.Context, text string) error {
	_, err := r.adapter.bot.Send(r.origin.Chat, text, &tele.SendOptions{ReplyTo: r.origin})
	if err == nil {
		r.replied.Store(true)
	}
	return err
}

func (r *responder) FollowUp(_ context.Context, text string) error {
	_, err := r.adapter.bot.Send(r.origin.Chat, text)
	return err
}

func (r *responder) Replied() bool { return r.replied.Load() }
