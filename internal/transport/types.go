package transport

import (
	"context"
	"errors"
)

// ErrChannelNotFound is returned by Publisher implementations when the
// destination channel reference cannot be resolved.
var ErrChannelNotFound = errors.New("channel not found")

// Field is one name/value pair rendered below the main text of a post.
type Field struct {
	Name  string
	Value string
}

// Content is the structural payload handed to a Publisher.
// Rendering (markup, embeds, attachments) is the publisher's business.
type Content struct {
	Text     string
	ImageURL string
	Fields   []Field
}

// Publisher delivers content to a destination channel.
//
// The channel reference is an opaque string owned by the implementation
// (Telegram: a chat id or @username).
type Publisher interface {
	SendToChannel(ctx context.Context, channel string, c Content) error
}

// Principal identifies whoever triggered an interaction.
type Principal struct {
	UserID   int64
	Username string
	ChatID   int64 // chat the interaction came from
}

// PermissionResolver answers whether a principal holds elevated rights.
//
// Callers must treat a non-nil error as "lacks permission" (fail closed).
type PermissionResolver interface {
	HasElevated(ctx context.Context, p Principal) (bool, error)
}

// Responder delivers user-visible responses for one interaction.
//
// Reply sends the first response; FollowUp sends additional ones after a
// reply has already happened. Replied reports whether anything user-visible
// has been sent yet.
type Responder interface {
	Reply(ctx context.Context, text string) error
	FollowUp(ctx context.Context, text string) error
	Replied() bool
}

// Interaction is one inbound command invocation, transport-agnostic.
type Interaction struct {
	Command   string
	Args      []string
	Principal Principal
	Respond   Responder
}
