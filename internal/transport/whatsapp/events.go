package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/nextlevelbuilder/walink/internal/transport"
)

// linkRecord is the credentials blob handed to the session store after a
// successful pairing. The signal keys themselves stay in the device database.
type linkRecord struct {
	JID          string    `json:"jid"`
	LID          string    `json:"lid,omitempty"`
	Platform     string    `json:"platform,omitempty"`
	BusinessName string    `json:"business_name,omitempty"`
	PairedAt     time.Time `json:"paired_at"`
}

// mapper converts whatsmeow events into transport events for one handle.
type mapper struct {
	qrSeen atomic.Bool
	now    func() time.Time
}

func newMapper() *mapper {
	return &mapper{now: time.Now}
}

func (m *mapper) mapEvent(evt any) []transport.Event {
	switch e := evt.(type) {
	case *events.QR:
		// The QR channel refreshes every few seconds; only the first tells us
		// the socket is up and waiting for a pairing code.
		if m.qrSeen.Swap(true) {
			return nil
		}
		return one(transport.ConnectionChanged{State: transport.StateOpen, Linked: false})

	case *events.Connected:
		return one(transport.ConnectionChanged{State: transport.StateOpen, Linked: true})

	case *events.PairSuccess:
		blob, err := json.Marshal(linkRecord{
			JID:          e.ID.String(),
			LID:          jidString(e.LID),
			Platform:     e.Platform,
			BusinessName: e.BusinessName,
			PairedAt:     m.now().UTC(),
		})
		if err != nil {
			return nil
		}
		return one(transport.CredentialsChanged{Blob: blob})

	case *events.PairError:
		return one(closedEvent(transport.ReasonUnknown, fmt.Errorf("pair error: %w", e.Error)))

	case *events.LoggedOut:
		return one(closedEvent(transport.ReasonLoggedOut, fmt.Errorf("logged out: %s", e.Reason.String())))

	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			return one(closedEvent(transport.ReasonLoggedOut, fmt.Errorf("connect failure: %s", e.Reason.String())))
		}
		return one(closedEvent(transport.ReasonUnknown, fmt.Errorf("connect failure: %s %s", e.Reason.String(), e.Message)))

	case *events.TemporaryBan:
		return one(closedEvent(transport.ReasonUnknown, fmt.Errorf("temporary ban: %s", e.String())))

	case *events.StreamReplaced:
		return one(closedEvent(transport.ReasonReplaced, errors.New("stream replaced by another client")))

	case *events.Disconnected:
		return one(closedEvent(transport.ReasonNetwork, errors.New("websocket disconnected")))

	case *events.DeleteForMe:
		return one(transport.MessageDeleted{
			Keys: []transport.MessageKey{{
				Chat:   e.ChatJID.String(),
				Sender: e.SenderJID.String(),
				ID:     e.MessageID,
				FromMe: e.IsFromMe,
			}},
			Timestamp: e.Timestamp,
		})

	case *events.Message:
		return mapMessage(e)
	}
	return nil
}

func mapMessage(e *events.Message) []transport.Event {
	msg := e.Message
	if msg == nil {
		return nil
	}
	if pm := msg.GetProtocolMessage(); pm != nil {
		if pm.GetType() != waE2E.ProtocolMessage_REVOKE || pm.GetKey() == nil {
			return nil
		}
		key := pm.GetKey()
		chat := e.Info.Chat.String()
		if jid := key.GetRemoteJID(); jid != "" {
			chat = jid
		}
		sender := key.GetParticipant()
		if sender == "" {
			sender = e.Info.Sender.String()
		}
		return one(transport.MessageDeleted{
			Keys:      []transport.MessageKey{{Chat: chat, Sender: sender, ID: key.GetID(), FromMe: key.GetFromMe()}},
			Timestamp: e.Info.Timestamp,
		})
	}
	return one(transport.Message{
		Key: transport.MessageKey{
			Chat:   e.Info.Chat.String(),
			Sender: e.Info.Sender.String(),
			ID:     e.Info.ID,
			FromMe: e.Info.IsFromMe,
		},
		PushName:  e.Info.PushName,
		Text:      messageText(msg),
		Timestamp: e.Info.Timestamp,
	})
}

// messageText extracts the human-readable body of a message, if any.
func messageText(msg *waE2E.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage().GetCaption() != "":
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage().GetCaption() != "":
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage().GetCaption() != "":
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func closedEvent(reason transport.CloseReason, err error) transport.ConnectionChanged {
	return transport.ConnectionChanged{State: transport.StateClosed, Reason: reason, Err: err}
}

func one(ev transport.Event) []transport.Event {
	return []transport.Event{ev}
}

func jidString(j types.JID) string {
	if j.IsEmpty() {
		return ""
	}
	return j.String()
}
