package responders

import (
	"log/slog"
	"math/rand/v2"

	"github.com/nextlevelbuilder/walink/internal/dispatch"
	"github.com/nextlevelbuilder/walink/internal/transport"
)

// StatusReactor marks status updates read and reacts with a random emoji.
type StatusReactor struct {
	settings *Live
	pick     func(n int) int
}

func NewStatusReactor(settings *Live) *StatusReactor {
	return &StatusReactor{settings: settings, pick: rand.IntN}
}

func (r *StatusReactor) HandleMessage(out dispatch.Outbox, msg transport.Message) {
	if msg.Key.ID == "" {
		return
	}
	emojis := r.settings.Load().Emojis
	emoji := emojis[r.pick(len(emojis))]

	out.MarkRead(msg.Key)
	out.Send(msg.Key.Chat, transport.Payload{Reaction: &transport.Reaction{Key: msg.Key, Emoji: emoji}})
	slog.Debug("responders: reacted to status", "identity", out.Identity(), "sender", msg.Key.Sender, "emoji", emoji)
}
