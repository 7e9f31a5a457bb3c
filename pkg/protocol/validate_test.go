package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidators(t *testing.T) {
	tests := []struct {
		name  string
		check func(string) bool
		value string
		want  bool
	}{
		{"username ok", ValidUsername, "user-01", true},
		{"username max", ValidUsername, strings.Repeat("a", 20), true},
		{"username too long", ValidUsername, strings.Repeat("a", 21), false},
		{"username empty", ValidUsername, "", false},
		{"username underscore", ValidUsername, "a_b", false},
		{"secret max", ValidSecret, strings.Repeat("S", 128), true},
		{"secret too long", ValidSecret, strings.Repeat("S", 129), false},
		{"channel ok", ValidChannelID, "discord-general", true},
		{"channel dot", ValidChannelID, "a.b", false},
		{"display punctuation", ValidDisplayName, "~Bob!", true},
		{"display space", ValidDisplayName, "Bob Smith", false},
		{"display too long", ValidDisplayName, strings.Repeat("b", 21), false},
		{"content spaces", ValidContent, "hello world", true},
		{"content max", ValidContent, strings.Repeat("c", 1400), true},
		{"content too long", ValidContent, strings.Repeat("c", 1401), false},
		{"content newline", ValidContent, "a\nb", false},
		{"content non-ascii", ValidContent, "čau", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.value))
		})
	}
}
