package responders

import (
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/walink/internal/ratelimit"
	"github.com/nextlevelbuilder/walink/internal/transport"
)

type sent struct {
	to string
	p  transport.Payload
}

type fakeOutbox struct {
	sends []sent
	reads []transport.MessageKey
	self  string
}

func (o *fakeOutbox) Send(to string, p transport.Payload) { o.sends = append(o.sends, sent{to, p}) }
func (o *fakeOutbox) MarkRead(keys ...transport.MessageKey) {
	o.reads = append(o.reads, keys...)
}
func (o *fakeOutbox) Self() string     { return o.self }
func (o *fakeOutbox) Identity() string { return "2348012345678" }

func chatMsg(text string) transport.Message {
	return transport.Message{
		Key:  transport.MessageKey{Chat: "111@s.whatsapp.net", Sender: "111@s.whatsapp.net", ID: "m1"},
		Text: text,
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text  string
		token string
		isCmd bool
	}{
		{".alive", "alive", true},
		{".ALIVE now", "alive", true},
		{".  menu", "menu", true},
		{".", "", true},
		{"alive", "", false},
		{"", "", false},
		{"!alive", "", false},
	}
	for _, tt := range tests {
		token, ok := ParseCommand(".", tt.text)
		if token != tt.token || ok != tt.isCmd {
			t.Errorf("ParseCommand(%q) = (%q, %v), want (%q, %v)", tt.text, token, ok, tt.token, tt.isCmd)
		}
	}
}

func TestAutoReply(t *testing.T) {
	s := DefaultSettings()
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"hello", "👋 Hey!", true},
		{"HI", "👋 Hey!", true},
		{" HI ", "", false},
		{"hey\n", "", false},
		{"hey there", "", false},
		{"show me the menu", "MENU", true},
		{"good morning", "", false},
		{"", "", false},
		{"   ", "", false},
	}
	for _, tt := range tests {
		got, ok := AutoReply(s, tt.text)
		if ok != tt.ok || !strings.Contains(got, tt.want) {
			t.Errorf("AutoReply(%q) = (%q, %v), want containing %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

func TestCommands_Routing(t *testing.T) {
	live := NewLive(Settings{BotName: "TEST BOT", ImageURL: "https://example.com/logo.jpg"})
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewCommands(live, started, nil)
	c.now = func() time.Time { return started.Add(3*time.Hour + 4*time.Minute + 5*time.Second) }

	tests := []struct {
		text      string
		wantSends int
		contains  string
	}{
		{".alive", 1, "Uptime: 3h 4m 5s"},
		{".menu", 1, "TEST BOT MENU"},
		{".help", 1, "is ready!"},
		{".banana", 1, "Unknown command"},
		{"hello", 1, "Hey! I'm *TEST BOT*"},
		{"good morning", 0, ""},
	}
	for _, tt := range tests {
		out := &fakeOutbox{}
		c.HandleMessage(out, chatMsg(tt.text))
		if len(out.sends) != tt.wantSends {
			t.Errorf("%q: sends = %d, want %d", tt.text, len(out.sends), tt.wantSends)
			continue
		}
		if tt.wantSends == 0 {
			continue
		}
		if got := out.sends[0]; got.to != "111@s.whatsapp.net" || !strings.Contains(got.p.Text, tt.contains) {
			t.Errorf("%q: sent %+v, want text containing %q to the chat", tt.text, got, tt.contains)
		}
	}
}

func TestCommands_AliveUsesImageAndNumber(t *testing.T) {
	live := NewLive(Settings{ImageURL: "https://example.com/logo.jpg"})
	c := NewCommands(live, time.Now(), nil)
	out := &fakeOutbox{}
	c.HandleMessage(out, chatMsg(".alive"))

	p := out.sends[0].p
	if p.ImageURL != "https://example.com/logo.jpg" {
		t.Errorf("ImageURL = %q", p.ImageURL)
	}
	if !strings.Contains(p.Text, "Number: 2348012345678") {
		t.Errorf("caption %q lacks the linked number", p.Text)
	}
}

func TestCommands_SkipsAutoReplyFromSelf(t *testing.T) {
	c := NewCommands(NewLive(Settings{}), time.Now(), nil)

	m := chatMsg("📜 menu")
	m.Key.FromMe = true
	out := &fakeOutbox{}
	c.HandleMessage(out, m)
	if len(out.sends) != 0 {
		t.Errorf("auto-reply answered own message: %+v", out.sends)
	}

	m = chatMsg(".help")
	m.Key.FromMe = true
	c.HandleMessage(out, m)
	if len(out.sends) != 1 {
		t.Errorf("own command not answered, sends = %d", len(out.sends))
	}
}

func TestCommands_FollowsLiveSettings(t *testing.T) {
	live := NewLive(Settings{})
	c := NewCommands(live, time.Now(), nil)

	live.Store(Settings{Prefix: "!", BotName: "RELOADED"})
	out := &fakeOutbox{}
	c.HandleMessage(out, chatMsg("!help"))
	c.HandleMessage(out, chatMsg(".help"))

	if len(out.sends) != 1 || !strings.Contains(out.sends[0].p.Text, "RELOADED") {
		t.Errorf("sends = %+v, want one reply under the new prefix", out.sends)
	}
}

func TestCommands_RateLimitedPerChat(t *testing.T) {
	c := NewCommands(NewLive(Settings{}), time.Now(), ratelimit.New("replies", 1, 1))
	out := &fakeOutbox{}
	c.HandleMessage(out, chatMsg(".help"))
	c.HandleMessage(out, chatMsg(".help"))
	if len(out.sends) != 1 {
		t.Errorf("sends = %d, want 1 within the limit", len(out.sends))
	}
}

func TestStatusReactor(t *testing.T) {
	r := NewStatusReactor(NewLive(Settings{Emojis: []string{"👍", "🎉"}}))
	r.pick = func(n int) int { return n - 1 }

	key := transport.MessageKey{Chat: transport.StatusBroadcast, Sender: "222@s.whatsapp.net", ID: "s1"}
	out := &fakeOutbox{}
	r.HandleMessage(out, transport.Message{Key: key})

	if len(out.reads) != 1 || out.reads[0] != key {
		t.Errorf("reads = %+v, want the status key", out.reads)
	}
	if len(out.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(out.sends))
	}
	got := out.sends[0]
	if got.to != transport.StatusBroadcast || got.p.Reaction == nil || got.p.Reaction.Emoji != "🎉" || got.p.Reaction.Key != key {
		t.Errorf("reaction = %+v", got)
	}
}

func TestStatusReactor_DefaultSetIsUniformRange(t *testing.T) {
	r := NewStatusReactor(NewLive(Settings{}))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		out := &fakeOutbox{}
		r.HandleMessage(out, transport.Message{Key: transport.MessageKey{Chat: transport.StatusBroadcast, ID: "s"}})
		seen[out.sends[0].p.Reaction.Emoji] = true
	}
	for e := range seen {
		found := false
		for _, d := range DefaultReactions {
			found = found || d == e
		}
		if !found {
			t.Errorf("reaction %q not in the default set", e)
		}
	}
}

func TestDeleteNotifier(t *testing.T) {
	live := NewLive(Settings{BotName: "TEST BOT", Location: time.UTC})
	n := NewDeleteNotifier(live)

	at := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	out := &fakeOutbox{self: "2348012345678@s.whatsapp.net"}
	n.HandleDelete(out, transport.MessageDeleted{
		Keys:      []transport.MessageKey{{Chat: "111@s.whatsapp.net", ID: "m1"}},
		Timestamp: at,
	})

	if len(out.sends) != 1 {
		t.Fatalf("sends = %d, want 1", len(out.sends))
	}
	want := "*🗑️ MESSAGE DELETED*\n\nMessage deleted from:\n📋 111@s.whatsapp.net\n🕒 2026-03-04 05:06:07\n\n> *Powered by TEST BOT*"
	if got := out.sends[0]; got.to != out.self || got.p.Text != want {
		t.Errorf("notice = %+v\nwant text %q", got, want)
	}
}

func TestDeleteNotifier_SkipsWhenUnlinked(t *testing.T) {
	n := NewDeleteNotifier(NewLive(Settings{}))
	out := &fakeOutbox{}
	n.HandleDelete(out, transport.MessageDeleted{Keys: []transport.MessageKey{{Chat: "x", ID: "1"}}})
	if len(out.sends) != 0 {
		t.Errorf("sent %d notices without an own address", len(out.sends))
	}
}

func TestFormatUptime(t *testing.T) {
	if got := formatUptime(25*time.Hour + 61*time.Second); got != "25h 1m 1s" {
		t.Errorf("formatUptime = %q", got)
	}
	if got := formatUptime(-time.Second); got != "0h 0m 0s" {
		t.Errorf("negative uptime = %q", got)
	}
}
