package responders

import (
	"fmt"
	"time"
)

const timestampLayout = "2006-01-02 15:04:05"

// formatMessage renders the bold-title/quoted-footer layout used for notices.
func formatMessage(title, content, footer string) string {
	return fmt.Sprintf("*%s*\n\n%s\n\n> *%s*", title, content, footer)
}

func formatTimestamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(timestampLayout)
}

// formatUptime renders d as "Xh Ym Zs".
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%dh %dm %ds", total/3600, (total%3600)/60, total%60)
}

// ConnectedNotice is the text sent to the owner when a session first opens.
func ConnectedNotice(s Settings) string {
	return fmt.Sprintf("✅ *%s connected successfully!*", s.normalized().BotName)
}
