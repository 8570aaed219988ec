// Package urlutil содержит помощники для безопасного логирования адресов бэкендов.
package urlutil

import (
	"net/url"
	"strings"
)

// MaskURL оставляет от URL только scheme и host: путь webhook и query
// могут содержать токены.
// Пример: "https://hooks.slack.com/services/T0/B0/XXX" → "https://hooks.slack.com/***"
func MaskURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***invalid-url***"
	}
	return u.Scheme + "://" + u.Host + "/***"
}

// Redact заменяет все вхождения secret в s на [REDACTED].
// net/http включает полный URL запроса в текст ошибки, поэтому
// ошибки клиентов с токеном в пути проходят через Redact перед логированием.
func Redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "[REDACTED]")
}
