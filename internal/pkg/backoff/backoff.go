// Package backoff реализует экспоненциальный интервал повторов для диспетчера очереди.
//
// Controller не потокобезопасен: им владеет ровно одна горутина (диспетчер).
package backoff

import (
	"math"
	"time"
)

// DefaultUnit — минимальный интервал повтора.
const DefaultUnit = time.Second

// Controller хранит текущий интервал повтора в единицах unit.
// Интервал удваивается на каждой неудаче и сбрасывается к одной единице при успехе.
// По умолчанию рост не ограничен; WithMax задаёт потолок.
type Controller struct {
	unit     time.Duration
	max      time.Duration
	current  time.Duration
	attempts int
}

// Option настраивает Controller.
type Option func(*Controller)

// WithMax ограничивает интервал сверху. Значение <= 0 означает отсутствие потолка.
func WithMax(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.max = d
		}
	}
}

// New создаёт Controller с интервалом, равным unit. unit <= 0 заменяется на DefaultUnit.
func New(unit time.Duration, opts ...Option) *Controller {
	if unit <= 0 {
		unit = DefaultUnit
	}
	c := &Controller{unit: unit}
	for _, opt := range opts {
		opt(c)
	}
	c.Reset()
	return c
}

// Reset возвращает интервал к одной единице.
func (c *Controller) Reset() {
	c.current = c.clamp(c.unit)
	c.attempts = 0
}

// Current возвращает текущий интервал повтора.
func (c *Controller) Current() time.Duration {
	return c.current
}

// Grow удваивает интервал. При переполнении time.Duration интервал
// остаётся на максимально представимом значении, а не уходит в отрицательные.
func (c *Controller) Grow() {
	c.attempts++
	if c.current > math.MaxInt64/2 {
		c.current = c.clamp(math.MaxInt64)
		return
	}
	c.current = c.clamp(c.current * 2)
}

// Attempts возвращает число Grow с последнего Reset.
func (c *Controller) Attempts() int {
	return c.attempts
}

// Unit возвращает минимальный интервал.
func (c *Controller) Unit() time.Duration {
	return c.unit
}

func (c *Controller) clamp(d time.Duration) time.Duration {
	if c.max > 0 && d > c.max {
		return c.max
	}
	return d
}
