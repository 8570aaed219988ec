package testutil

import (
	"fmt"
	"time"

	"github.com/Kargones/alert-relay/internal/pkg/message"
)

// FixedTime — метка времени, которую используют тестовые сообщения.
var FixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Msg возвращает нормализованное тестовое сообщение с заголовком title.
func Msg(title string) message.Message {
	return message.Message{
		Title:     title,
		Text:      fmt.Sprintf("text of %s", title),
		Level:     message.LevelWarn,
		Timestamp: FixedTime,
		Version:   "alert-relay test",
	}
}

// Titles возвращает заголовки сообщений в исходном порядке.
func Titles(msgs []message.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Title)
	}
	return out
}
