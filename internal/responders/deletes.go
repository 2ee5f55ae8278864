package responders

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/walink/internal/dispatch"
	"github.com/nextlevelbuilder/walink/internal/transport"
)

// DeleteNotifier tells the account owner, on their own chat, when a message
// was retracted.
type DeleteNotifier struct {
	settings *Live
	now      func() time.Time
}

func NewDeleteNotifier(settings *Live) *DeleteNotifier {
	return &DeleteNotifier{settings: settings, now: time.Now}
}

func (n *DeleteNotifier) HandleDelete(out dispatch.Outbox, ev transport.MessageDeleted) {
	self := out.Self()
	if self == "" {
		slog.Warn("responders: delete notice skipped, session not linked", "identity", out.Identity())
		return
	}
	s := n.settings.Load()
	at := ev.Timestamp
	if at.IsZero() {
		at = n.now()
	}
	for _, key := range ev.Keys {
		text := formatMessage(
			"🗑️ MESSAGE DELETED",
			fmt.Sprintf("Message deleted from:\n📋 %s\n🕒 %s", key.Chat, formatTimestamp(at, s.Location)),
			"Powered by "+s.BotName,
		)
		out.Send(self, transport.Payload{Text: text, ImageURL: s.ImageURL})
	}
	slog.Info("responders: delete notice queued", "identity", out.Identity(), "keys", len(ev.Keys))
}
