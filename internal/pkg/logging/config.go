package logging

// Поддерживаемые форматы вывода.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Поддерживаемые уровни.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Куда пишутся логи.
const (
	OutputStderr = "stderr"
	OutputFile   = "file"
)

// Значения по умолчанию. Совпадают с env-default тегами Config.
const (
	DefaultLevel      = LevelInfo
	DefaultFormat     = FormatText
	DefaultOutput     = OutputStderr
	DefaultFilePath   = "/var/log/alert-relay/alert-relay.log"
	DefaultMaxSize    = 50 // MB
	DefaultMaxBackups = 3
	DefaultMaxAge     = 14 // days
	DefaultCompress   = true
)

// Config — настройки логирования. Встраивается в конфигурацию демона
// как секция "logging", поэтому теги yaml/env описаны здесь же.
type Config struct {
	// Level — минимальный уровень: debug, info, warn, error.
	Level string `yaml:"level" env:"AR_LOG_LEVEL" env-default:"info"`

	// Format — text или json.
	Format string `yaml:"format" env:"AR_LOG_FORMAT" env-default:"text"`

	// Output — stderr или file.
	Output string `yaml:"output" env:"AR_LOG_OUTPUT" env-default:"stderr"`

	// FilePath — путь к файлу при output=file.
	FilePath string `yaml:"filePath" env:"AR_LOG_FILE_PATH" env-default:"/var/log/alert-relay/alert-relay.log"`

	// MaxSize — размер файла в МБ до ротации.
	MaxSize int `yaml:"maxSize" env:"AR_LOG_MAX_SIZE" env-default:"50"`

	// MaxBackups — сколько ротированных файлов хранить.
	MaxBackups int `yaml:"maxBackups" env:"AR_LOG_MAX_BACKUPS" env-default:"3"`

	// MaxAge — возраст ротированных файлов в днях.
	MaxAge int `yaml:"maxAge" env:"AR_LOG_MAX_AGE" env-default:"14"`

	// Compress — сжимать ротированные файлы gzip.
	Compress bool `yaml:"compress" env:"AR_LOG_COMPRESS"`
}

// DefaultConfig возвращает Config со значениями по умолчанию.
func DefaultConfig() Config {
	return Config{
		Level:      DefaultLevel,
		Format:     DefaultFormat,
		Output:     DefaultOutput,
		FilePath:   DefaultFilePath,
		MaxSize:    DefaultMaxSize,
		MaxBackups: DefaultMaxBackups,
		MaxAge:     DefaultMaxAge,
		Compress:   DefaultCompress,
	}
}

// withDefaults заполняет пустые поля значениями по умолчанию.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Level == "" {
		c.Level = d.Level
	}
	if c.Format == "" {
		c.Format = d.Format
	}
	if c.Output == "" {
		c.Output = d.Output
	}
	if c.FilePath == "" {
		c.FilePath = d.FilePath
	}
	if c.MaxSize <= 0 {
		c.MaxSize = d.MaxSize
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = d.MaxBackups
	}
	if c.MaxAge <= 0 {
		c.MaxAge = d.MaxAge
	}
	return c
}
