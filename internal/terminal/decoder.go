// Package terminal hosts an exam attempt in a raw-mode terminal: it decodes
// keyboard, focus and paste input, feeds the integrity bus and renders the paper.
package terminal

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf8"
)

// EventKind classifies one decoded input event.
type EventKind int

const (
	EventRune EventKind = iota
	EventKey
	EventFocusIn
	EventFocusOut
	EventPaste
)

// Event is one decoded unit of terminal input. Key holds a combo in
// integrity.Normalize form ("Ctrl+R", "Alt+Left", "F5").
type Event struct {
	Kind EventKind
	Rune rune
	Key  string
	Text string
}

const (
	esc = 0x1b
	del = 0x7f
)

var (
	pasteStart = []byte("\x1b[200~")
	pasteEnd   = []byte("\x1b[201~")
)

// csiFinals maps a CSI final byte with no parameters to a key name.
var csiFinals = map[byte]string{
	'A': "Up",
	'B': "Down",
	'C': "Right",
	'D': "Left",
	'H': "Home",
	'F': "End",
	'Z': "Shift+Tab",
}

// tildeKeys maps the numeric parameter of "ESC [ n ~" to a key name.
var tildeKeys = map[int]string{
	1: "Home", 2: "Insert", 3: "Delete", 4: "End", 5: "PageUp", 6: "PageDown",
	15: "F5", 17: "F6", 18: "F7", 19: "F8", 20: "F9", 21: "F10", 23: "F11", 24: "F12",
}

// ss3Keys maps "ESC O x" to a key name.
var ss3Keys = map[byte]string{
	'P': "F1", 'Q': "F2", 'R': "F3", 'S': "F4",
	'A': "Up", 'B': "Down", 'C': "Right", 'D': "Left", 'H': "Home", 'F': "End",
}

// Decoder turns raw terminal bytes into events. Sequences split across reads
// are held until complete. It is not safe for concurrent use.
type Decoder struct {
	buf     []byte
	pasting bool
	paste   []byte
	held    bool
}

// Feed appends p and returns every event it completes. A lone ESC ending a
// read is held: the next read decides whether it starts a sequence, and Flush
// turns it into the Escape key when nothing follows.
func (d *Decoder) Feed(p []byte) []Event {
	var out []Event
	if d.held && len(p) > 0 && p[0] != '[' && p[0] != 'O' {
		out = append(out, key("Esc"))
		d.buf = nil
	}
	d.held = false
	d.buf = append(d.buf, p...)

	for len(d.buf) > 0 {
		if d.pasting {
			i := bytes.Index(d.buf, pasteEnd)
			if i < 0 {
				keep := partialSuffix(d.buf, pasteEnd)
				d.paste = append(d.paste, d.buf[:len(d.buf)-keep]...)
				d.buf = d.buf[len(d.buf)-keep:]
				break
			}
			d.paste = append(d.paste, d.buf[:i]...)
			out = append(out, Event{Kind: EventPaste, Text: string(d.paste)})
			d.paste = nil
			d.pasting = false
			d.buf = d.buf[i+len(pasteEnd):]
			continue
		}

		ev, n, ok := d.next()
		if n == 0 {
			break
		}
		d.buf = d.buf[n:]
		if ok {
			out = append(out, ev)
		}
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	d.held = !d.pasting && len(d.buf) == 1 && d.buf[0] == esc
	return out
}

// Pending reports whether a lone ESC is waiting for Flush or more input.
func (d *Decoder) Pending() bool { return d.held }

// Flush emits a held ESC as the Escape key.
func (d *Decoder) Flush() []Event {
	if !d.held {
		return nil
	}
	d.held = false
	d.buf = nil
	return []Event{key("Esc")}
}

// next decodes one unit at the head of the buffer. n == 0 means more input is needed.
func (d *Decoder) next() (Event, int, bool) {
	b := d.buf[0]
	switch {
	case b == esc:
		return d.escape()
	case b == '\r' || b == '\n':
		return key("Enter"), 1, true
	case b == '\t':
		return key("Tab"), 1, true
	case b == del || b == 0x08:
		return key("Backspace"), 1, true
	case b == 0:
		return key("Ctrl+Space"), 1, true
	case b < 0x20:
		return key("Ctrl+" + string(rune('A'+b-1))), 1, true
	}

	if !utf8.FullRune(d.buf) {
		return Event{}, 0, false
	}
	r, size := utf8.DecodeRune(d.buf)
	if r == utf8.RuneError {
		return Event{}, size, false
	}
	return Event{Kind: EventRune, Rune: r}, size, true
}

func (d *Decoder) escape() (Event, int, bool) {
	if len(d.buf) == 1 {
		return Event{}, 0, false
	}

	switch d.buf[1] {
	case '[':
		return d.csi()
	case 'O':
		if len(d.buf) < 3 {
			return Event{}, 0, false
		}
		if name, ok := ss3Keys[d.buf[2]]; ok {
			return key(name), 3, true
		}
		return Event{}, 3, false
	case esc:
		return key("Esc"), 1, true
	}

	// ESC followed by a character is how terminals send Alt+char.
	inner := Decoder{buf: d.buf[1:]}
	ev, n, ok := inner.next()
	if n == 0 {
		return Event{}, 0, false
	}
	if !ok {
		return Event{}, n + 1, false
	}
	switch ev.Kind {
	case EventRune:
		return key("Alt+" + string(ev.Rune)), n + 1, true
	case EventKey:
		return key("Alt+" + ev.Key), n + 1, true
	}
	return Event{}, n + 1, false
}

// csi decodes "ESC [ params final". Unknown sequences are consumed and dropped.
func (d *Decoder) csi() (Event, int, bool) {
	end := -1
	for i := 2; i < len(d.buf); i++ {
		if c := d.buf[i]; c >= 0x40 && c <= 0x7e {
			end = i
			break
		}
	}
	if end < 0 {
		return Event{}, 0, false
	}
	n := end + 1
	params := string(d.buf[2:end])
	final := d.buf[end]

	switch {
	case final == 'I' && params == "":
		return Event{Kind: EventFocusIn}, n, true
	case final == 'O' && params == "":
		return Event{Kind: EventFocusOut}, n, true
	case final == '~' && params == "200":
		d.pasting = true
		return Event{}, n, false
	case final == '~' && params == "201":
		return Event{}, n, false
	}

	base, mod := splitParams(params)
	var name string
	if final == '~' {
		name = tildeKeys[base]
	} else if base <= 1 {
		name = csiFinals[final]
		if name == "" && mod > 1 {
			// xterm sends modified F1-F4 as "ESC [ 1 ; m P".
			name = ss3Keys[final]
		}
	}
	if name == "" {
		return Event{}, n, false
	}
	return key(modifierPrefix(mod) + name), n, true
}

// splitParams parses "a;b" into the key parameter and the xterm modifier code.
func splitParams(params string) (int, int) {
	if params == "" {
		return 0, 1
	}
	first, rest, found := strings.Cut(params, ";")
	base, _ := strconv.Atoi(first)
	mod := 1
	if found {
		if m, err := strconv.Atoi(rest); err == nil {
			mod = m
		}
	}
	return base, mod
}

// modifierPrefix renders an xterm modifier code (1 + bitmask) as a combo prefix.
func modifierPrefix(code int) string {
	bits := code - 1
	if bits <= 0 {
		return ""
	}
	prefix := ""
	if bits&4 != 0 {
		prefix += "Ctrl+"
	}
	if bits&2 != 0 {
		prefix += "Alt+"
	}
	if bits&1 != 0 {
		prefix += "Shift+"
	}
	if bits&8 != 0 {
		prefix += "Meta+"
	}
	return prefix
}

// partialSuffix returns how many trailing bytes of b could begin marker.
func partialSuffix(b, marker []byte) int {
	limit := len(marker) - 1
	if limit > len(b) {
		limit = len(b)
	}
	for n := limit; n > 0; n-- {
		if bytes.HasPrefix(marker, b[len(b)-n:]) {
			return n
		}
	}
	return 0
}

func key(name string) Event {
	return Event{Kind: EventKey, Key: name}
}
