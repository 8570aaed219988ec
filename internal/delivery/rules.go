package delivery

import (
	"github.com/Kargones/alert-relay/internal/pkg/message"
)

// BackendRule — правило маршрутизации для одного бэкенда.
type BackendRule struct {
	// MinLevel — минимальный уровень сообщения (OK, UNKNOWN, WARN, ERROR).
	// Пусто — без фильтрации.
	MinLevel string `yaml:"minLevel"`
}

// RulesConfig — правила по имени бэкенда.
type RulesConfig map[string]BackendRule

// Rules решает, отправлять ли сообщение в конкретный бэкенд.
type Rules struct {
	minRank map[string]int
}

// NewRules создаёт Rules из конфигурации.
// Некорректный уровень возвращает ошибку: при загрузке конфигурации это ошибка валидации.
func NewRules(config RulesConfig) (*Rules, error) {
	r := &Rules{minRank: make(map[string]int, len(config))}
	for backend, rule := range config {
		if rule.MinLevel == "" {
			continue
		}
		level, err := message.ParseLevel(rule.MinLevel)
		if err != nil {
			return nil, err
		}
		r.minRank[backend] = level.Rank()
	}
	return r, nil
}

// Evaluate проверяет, должен ли msg быть отправлен в backend.
// Бэкенд без правила принимает все сообщения.
func (r *Rules) Evaluate(msg message.Message, backend string) bool {
	if r == nil {
		return true
	}
	threshold, ok := r.minRank[backend]
	if !ok {
		return true
	}
	return msg.Level.Rank() >= threshold
}
