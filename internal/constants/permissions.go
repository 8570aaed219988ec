package constants

import "os"

// Права каталогов.
const (
	// DirPermStandard — каталог очереди и логов (owner rwx, group r-x).
	DirPermStandard os.FileMode = 0750
)

// Права файлов.
const (
	// FilePermPrivate — файл очереди: сообщения могут содержать чувствительные данные.
	FilePermPrivate os.FileMode = 0600

	// SocketPermShared — UNIX socket доступен любому локальному пользователю.
	SocketPermShared os.FileMode = 0777
)
