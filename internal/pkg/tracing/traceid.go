// Package tracing настраивает OpenTelemetry для span-ов доставки и
// генерирует trace ID для корреляции логов одного входящего соединения.
//
// Формат trace ID: 32 hex символа (16 байт), совместимый с W3C Trace Context:
//
//	traceID := tracing.GenerateTraceID()
//	ctx = tracing.ContextWithOTelTraceID(ctx, traceID)
//	logger.With("trace_id", traceID).Info("соединение принято")
package tracing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

var fallbackCounter atomic.Uint64

// GenerateTraceID генерирует trace ID из crypto/rand.
// Если crypto/rand недоступен, ID строится из времени и счётчика.
func GenerateTraceID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fallbackTraceID()
	}
	return hex.EncodeToString(b)
}

// fallbackTraceID всегда возвращает ровно 32 hex символа: %016x на каждое uint64.
func fallbackTraceID() string {
	counter := fallbackCounter.Add(1)
	timestamp := uint64(time.Now().UnixNano())
	return fmt.Sprintf("%016x%016x", timestamp, counter)
}
