// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxIDLength ограничивает длину идентификатора лотереи или пользователя в байтах.
const MaxIDLength = 128

// IsValidID проверяет внешний идентификатор: непустая строка UTF-8 не длиннее
// MaxIDLength байт без '/' и управляющих символов. Идентификатор встраивается в путь
// запроса, поэтому '/' запрещён.
func IsValidID(id string) bool {
	if id == "" || len(id) > MaxIDLength || !utf8.ValidString(id) {
		return false
	}
	if strings.ContainsRune(id, '/') {
		return false
	}
	return strings.IndexFunc(id, unicode.IsControl) < 0
}

// IsValidName проверяет отображаемое имя: непустое и не длиннее 256 байт.
func IsValidName(name string) bool {
	return name != "" && len(name) <= 256
}
