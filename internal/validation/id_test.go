package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want bool
	}{
		{name: "digits", id: "1", want: true},
		{name: "letters and digits", id: "L1", want: true},
		{name: "separators", id: "spring-2025_draw.v2", want: true},
		{name: "email", id: "user@example.com", want: true},
		{name: "non-ascii", id: "лотерея", want: true},
		{name: "inner space", id: "L 1", want: true},
		{name: "max length", id: strings.Repeat("a", MaxIDLength), want: true},
		{name: "empty", id: "", want: false},
		{name: "too long", id: strings.Repeat("a", MaxIDLength+1), want: false},
		{name: "slash", id: "a/b", want: false},
		{name: "invalid utf-8", id: "a\xffb", want: false},
		{name: "nul byte", id: "a\x00b", want: false},
		{name: "newline", id: "a\nb", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidID(tt.id))
		})
	}
}

func TestIsValidName(t *testing.T) {
	assert.True(t, IsValidName("Event 1"))
	assert.True(t, IsValidName("Розыгрыш"))
	assert.False(t, IsValidName(""))
	assert.False(t, IsValidName(strings.Repeat("x", 257)))
}
