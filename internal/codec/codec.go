// Package codec декодирует и кодирует JSON-сообщения, которыми сервер обменивается с ESP
// (и тела HTTP-запросов), и проверяет обязательные поля.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrDecode     = errors.New("decode error")
	ErrValidation = errors.New("validation error")
)

// Mode — уровень проверки обязательных полей.
type Mode int

const (
	// Presence — ключ должен присутствовать.
	Presence Mode = iota + 1
	// NonEmpty — ключ присутствует, значение не null, не пустая строка и не "NULL".
	NonEmpty
)

// Object — декодированный JSON-объект.
type Object map[string]any

// Decode разбирает payload как JSON-объект. Массивы, скаляры и битый JSON — ErrDecode.
func Decode(payload []byte) (Object, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var obj Object
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrDecode)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrDecode)
	}
	return obj, nil
}

// ValidateRequiredFields возвращает false, если хотя бы одно поле не проходит проверку.
func ValidateRequiredFields(obj Object, fields []string, mode Mode) bool {
	return MissingFields(obj, fields, mode) == nil
}

// MissingFields — то же, что ValidateRequiredFields, но с перечнем непрошедших полей.
func MissingFields(obj Object, fields []string, mode Mode) []string {
	var missing []string
	for _, f := range fields {
		v, ok := obj[f]
		if !ok {
			missing = append(missing, f)
			continue
		}
		if mode == NonEmpty && isEmpty(v) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Require — ValidateRequiredFields в виде ошибки ErrValidation.
func Require(obj Object, fields []string, mode Mode) error {
	if missing := MissingFields(obj, fields, mode); len(missing) > 0 {
		return fmt.Errorf("%w: missing or empty fields: %s", ErrValidation, strings.Join(missing, ", "))
	}
	return nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(x)
		return s == "" || s == "NULL"
	case bool:
		return !x
	case json.Number:
		return x.String() == "0"
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

// String возвращает строковое значение поля; числа приводятся к строке.
func (o Object) String(key string) string {
	switch x := o[key].(type) {
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	}
	return ""
}

// Uint возвращает целое неотрицательное значение поля (число или строка с числом).
func (o Object) Uint(key string) (uint, bool) {
	var s string
	switch x := o[key].(type) {
	case json.Number:
		s = x.String()
	case string:
		s = strings.TrimSpace(x)
	default:
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(n), true
}

// Message — исходящее сообщение: путь топика и JSON-payload.
type Message struct {
	Topic   string
	Payload []byte
}

// Encode собирает исходящее сообщение. Ключи сериализуются в порядке сортировки.
func Encode(topic string, fields map[string]any) (Message, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", topic, err)
	}
	return Message{Topic: topic, Payload: b}, nil
}
