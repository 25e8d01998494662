package integrity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"shift+ctrl+i", "Ctrl+Shift+I"},
		{"Control+R", "Ctrl+R"},
		{"cmd+option+i", "Alt+Meta+I"},
		{"f5", "F5"},
		{"ctrl+f5", "Ctrl+F5"},
		{"Alt+ArrowLeft", "Alt+Left"},
		{" ctrl + w ", "Ctrl+W"},
		{"ctrl+ctrl+n", "Ctrl+N"},
		{"Shift", "Shift"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestDefaultBlocklist(t *testing.T) {
	b := NewBlocklist(nil)

	for _, combo := range []string{"F5", "ctrl+r", "Ctrl+Shift+I", "meta+alt+i", "alt+f4", "Ctrl+W", "alt+arrowleft"} {
		_, ok := b.Match(combo)
		assert.True(t, ok, combo)
	}
	for _, combo := range []string{"Ctrl+C", "A", "Shift+A", "Enter", "Ctrl+Z"} {
		_, ok := b.Match(combo)
		assert.False(t, ok, combo)
	}
}

func TestCustomBlocklistReplacesDefaults(t *testing.T) {
	b := NewBlocklist([]string{"ctrl+p"})

	got, ok := b.Match("Control+P")
	assert.True(t, ok)
	assert.Equal(t, "Ctrl+P", got)

	_, ok = b.Match("F5")
	assert.False(t, ok)
}

func TestNilBlocklistMatchesNothing(t *testing.T) {
	var b *Blocklist
	_, ok := b.Match("F5")
	assert.False(t, ok)
}
