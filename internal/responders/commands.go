package responders

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/walink/internal/dispatch"
	"github.com/nextlevelbuilder/walink/internal/ratelimit"
	"github.com/nextlevelbuilder/walink/internal/transport"
)

// Command tokens.
const (
	CmdAlive = "alive"
	CmdMenu  = "menu"
	CmdHelp  = "help"
)

var greetings = map[string]bool{"hi": true, "hello": true, "hey": true}

// ParseCommand reports whether text is a command under prefix and returns its
// case-folded token. A bare prefix yields ok with an empty token.
func ParseCommand(prefix, text string) (token string, ok bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", false
	}
	fields := strings.Fields(text[len(prefix):])
	if len(fields) == 0 {
		return "", true
	}
	return strings.ToLower(fields[0]), true
}

// AutoReply matches non-command text against the greeting and menu triggers.
// Greetings must be the whole message, case aside; surrounding whitespace
// makes it ordinary text.
func AutoReply(s Settings, text string) (string, bool) {
	lower := strings.ToLower(text)
	if lower == "" {
		return "", false
	}
	if greetings[lower] {
		return fmt.Sprintf("👋 Hey! I'm *%s*", s.BotName), true
	}
	if strings.Contains(lower, "menu") {
		return fmt.Sprintf("📜 *%s MENU*\n1. %salive\n2. %shelp\n3. %smenu", s.BotName, s.Prefix, s.Prefix, s.Prefix), true
	}
	return "", false
}

// Commands answers prefix commands and, for plain text, the auto-reply triggers.
type Commands struct {
	settings *Live
	started  time.Time
	limiter  *ratelimit.Limiter
	now      func() time.Time
}

// NewCommands creates the router. started is the process start used for uptime;
// limiter may be nil.
func NewCommands(settings *Live, started time.Time, limiter *ratelimit.Limiter) *Commands {
	return &Commands{settings: settings, started: started, limiter: limiter, now: time.Now}
}

func (c *Commands) HandleMessage(out dispatch.Outbox, msg transport.Message) {
	s := c.settings.Load()
	chat := msg.Key.Chat

	token, isCmd := ParseCommand(s.Prefix, msg.Text)
	if !isCmd {
		if msg.Key.FromMe {
			return
		}
		if text, ok := AutoReply(s, msg.Text); ok && c.allow(chat) {
			out.Send(chat, transport.Payload{Text: text})
		}
		return
	}
	if !c.allow(chat) {
		return
	}
	slog.Info("responders: command", "identity", out.Identity(), "chat", chat, "command", token)
	out.Send(chat, c.reply(s, token, out.Identity()))
}

func (c *Commands) allow(chat string) bool {
	return c.limiter.Allow(chat)
}

func (c *Commands) reply(s Settings, token, number string) transport.Payload {
	switch token {
	case CmdAlive:
		caption := fmt.Sprintf("\n╭───💠───\n👑 *%s IS ACTIVE*\n⏰ Uptime: %s\n📱 Number: %s\n╰───💠───\n",
			s.BotName, formatUptime(c.now().Sub(c.started)), number)
		return transport.Payload{Text: caption, ImageURL: s.ImageURL}
	case CmdMenu:
		return transport.Payload{Text: fmt.Sprintf("\n🌐 *%s MENU*\n%salive - Check bot status\n%shelp - Show help\n", s.BotName, s.Prefix, s.Prefix)}
	case CmdHelp:
		return transport.Payload{Text: fmt.Sprintf("✨ *%s* is ready!\nUse %smenu to see all commands.", s.BotName, s.Prefix)}
	default:
		return transport.Payload{Text: fmt.Sprintf("❓ Unknown command. Type *%smenu*", s.Prefix)}
	}
}
