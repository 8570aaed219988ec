package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// schemaURL — идентификатор встроенной схемы в компиляторе jsonschema.
const schemaURL = "https://github.com/Kargones/alert-relay/schema/message.json"

// schemaJSON описывает документ, который клиент пишет в сокет и который
// хранится построчно в файле очереди.
const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["title", "text"],
  "properties": {
    "title":     {"type": "string"},
    "text":      {"type": "string"},
    "level":     {"type": "string", "enum": ["OK", "WARN", "WARNING", "ERROR", "UNKNOWN", "ok", "warn", "warning", "error", "unknown", ""]},
    "link":      {"type": "string"},
    "fields":    {"type": "object", "additionalProperties": {"type": "string"}},
    "channel":   {"type": "string"},
    "timestamp": {"type": "string"},
    "version":   {"type": "string"}
  }
}`

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("message: разбор встроенной схемы: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("message: регистрация схемы: %w", err)
	}
	return c.Compile(schemaURL)
})

// Decode проверяет JSON-документ по схеме и разбирает его в Message.
// Ошибка означает, что документ не является корректным сообщением.
func Decode(data []byte) (Message, error) {
	schema, err := compiledSchema()
	if err != nil {
		return Message{}, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Message{}, fmt.Errorf("message: некорректный JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Message{}, fmt.Errorf("message: документ не соответствует схеме: %w", err)
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("message: %w", err)
	}
	return m, nil
}

// Encode сериализует сообщение в одну строку JSON без завершающего перевода строки.
// Символы < > & не экранируются: запись в файле очереди не длиннее исходной.
func Encode(m Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
