// Package message описывает алерт, который демон принимает от локальных
// клиентов, хранит в очереди и доставляет в чат-бэкенды.
package message

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Level — уровень важности алерта.
type Level string

// Поддерживаемые уровни.
const (
	LevelOK      Level = "OK"
	LevelWarn    Level = "WARN"
	LevelError   Level = "ERROR"
	LevelUnknown Level = "UNKNOWN"
)

// ParseLevel разбирает уровень без учёта регистра. "WARNING" принимается как WARN.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OK":
		return LevelOK, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR":
		return LevelError, nil
	case "UNKNOWN", "":
		return LevelUnknown, nil
	default:
		return "", fmt.Errorf("message: неизвестный уровень %q (ожидается OK, WARN, ERROR или UNKNOWN)", s)
	}
}

// Color возвращает цвет вложения Slack для уровня.
func (l Level) Color() string {
	switch l {
	case LevelOK:
		return "good"
	case LevelWarn:
		return "warning"
	case LevelError:
		return "danger"
	default:
		return "#808080"
	}
}

// Rank упорядочивает уровни для правил маршрутизации: OK < UNKNOWN < WARN < ERROR.
func (l Level) Rank() int {
	switch l {
	case LevelOK:
		return 0
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

func (l Level) String() string { return string(l) }

// Message — алерт. Для очереди и доставки это неизменяемое значение:
// бэкенды не модифицируют его, а при неудаче то же значение возвращается в очередь.
// Дубликаты допускаются, дедупликации нет.
type Message struct {
	Title     string            `json:"title"`
	Text      string            `json:"text"`
	Level     Level             `json:"level"`
	Link      string            `json:"link,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Channel   string            `json:"channel,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// Field — пара ключ/значение в порядке отображения.
type Field struct {
	Key   string
	Value string
}

// SortedFields возвращает поля, отсортированные по ключу.
func (m Message) SortedFields() []Field {
	if len(m.Fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, Field{Key: k, Value: m.Fields[k]})
	}
	return fields
}

// Normalize возвращает копию сообщения, пригодную для очереди:
// текст приведён к Unicode NFC, уровень канонизирован (пустой и неизвестный
// становятся UNKNOWN), нулевая метка времени заменена на now.
// Карта полей копируется, исходное сообщение не изменяется.
func (m Message) Normalize(now time.Time) Message {
	out := m
	out.Title = norm.NFC.String(strings.TrimSpace(m.Title))
	out.Text = norm.NFC.String(m.Text)
	out.Channel = strings.TrimSpace(m.Channel)
	out.Link = strings.TrimSpace(m.Link)

	level, err := ParseLevel(string(m.Level))
	if err != nil {
		level = LevelUnknown
	}
	out.Level = level

	if len(m.Fields) > 0 {
		out.Fields = make(map[string]string, len(m.Fields))
		for k, v := range m.Fields {
			out.Fields[norm.NFC.String(k)] = norm.NFC.String(v)
		}
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = now.UTC()
	}
	return out
}

// Summary возвращает короткое описание для логов: уровень и заголовок.
func (m Message) Summary() string {
	title := m.Title
	if r := []rune(title); len(r) > 64 {
		title = string(r[:64]) + "…"
	}
	return fmt.Sprintf("[%s] %s", m.Level, title)
}
