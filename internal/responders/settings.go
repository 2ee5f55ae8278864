// Package responders implements the automated replies a linked session makes:
// prefix commands, greeting auto-replies, status reactions and deletion notices.
package responders

import (
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/walink/internal/dispatch"
	"github.com/nextlevelbuilder/walink/internal/ratelimit"
)

const (
	DefaultPrefix   = "."
	DefaultBotName  = "WALINK BOT"
	DefaultTimezone = "Africa/Lagos"
)

// DefaultReactions is the emoji set statuses are reacted with.
var DefaultReactions = []string{"🔥", "❤️", "💫", "😎"}

// Settings are the user-facing knobs of every responder.
type Settings struct {
	Prefix   string
	BotName  string
	ImageURL string
	Emojis   []string
	Location *time.Location
}

// DefaultSettings returns settings with every field populated.
func DefaultSettings() Settings {
	return Settings{}.normalized()
}

func (s Settings) normalized() Settings {
	if s.Prefix == "" {
		s.Prefix = DefaultPrefix
	}
	if s.BotName == "" {
		s.BotName = DefaultBotName
	}
	if len(s.Emojis) == 0 {
		s.Emojis = slices.Clone(DefaultReactions)
	}
	if s.Location == nil {
		s.Location = LoadLocation(DefaultTimezone)
	}
	return s
}

// LoadLocation resolves an IANA zone name, falling back to UTC.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("responders: unknown timezone, using UTC", "timezone", name, "error", err)
		return time.UTC
	}
	return loc
}

// Live holds the current Settings and lets config reloads swap them while
// responders are running.
type Live struct {
	p atomic.Pointer[Settings]
}

func NewLive(s Settings) *Live {
	l := &Live{}
	l.Store(s)
	return l
}

// Load returns the current settings.
func (l *Live) Load() Settings {
	return *l.p.Load()
}

// Store replaces the settings; empty fields take defaults.
func (l *Live) Store(s Settings) {
	s = s.normalized()
	l.p.Store(&s)
}

// Routes wires the standard responders into a dispatcher routing table.
func Routes(settings *Live, started time.Time, replyLimiter *ratelimit.Limiter) dispatch.Responders {
	return dispatch.Responders{
		Commands: NewCommands(settings, started, replyLimiter),
		Status:   NewStatusReactor(settings),
		Deletes:  NewDeleteNotifier(settings),
	}
}
