// Package constants содержит константы, общие для демона alert-relay и клиента alert.
package constants

// Version — версия сборки, задаётся при сборке:
//
//	go build -ldflags "-X github.com/Kargones/alert-relay/internal/constants.Version=1.4.0"
var Version = "dev"

// Имена программ.
const (
	// DaemonName — имя демона, используется в логах, метриках и трейсинге.
	DaemonName = "alert-relay"

	// ClientName — имя клиента командной строки.
	ClientName = "alert"
)

// Пути по умолчанию.
const (
	// DefaultConfigPath — конфигурация демона и клиента.
	DefaultConfigPath = "/etc/alert-relay/alert-relay.yml"

	// DefaultSocketPath — UNIX socket для приёма сообщений.
	DefaultSocketPath = "/run/alert-relay/alert-relay.sock"

	// DefaultSpoolPath — файл очереди недоставленных сообщений.
	DefaultSpoolPath = "/var/spool/alert-relay/spool.jsonl"
)

// Лимиты приёма сообщений.
const (
	// MaxMessageSize — максимальный размер JSON документа одного соединения.
	MaxMessageSize = 1 << 20

	// DefaultQueueSize — ёмкость канала доставки.
	DefaultQueueSize = 5
)

// VersionString возвращает строку версии для подписи сообщений, например "alert-relay v1.4.0".
func VersionString(program string) string {
	return program + " v" + Version
}
