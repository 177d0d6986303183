package executor

import (
	"strings"

	"github.com/go-rod/rod/lib/input"
)

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"space":      input.Space,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"del":        input.Delete,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"insert":     input.Insert,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"up":         input.ArrowUp,
	"down":       input.ArrowDown,
	"left":       input.ArrowLeft,
	"right":      input.ArrowRight,
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"capslock":   input.CapsLock,
	"ctrl":       input.ControlLeft,
	"control":    input.ControlLeft,
	"shift":      input.ShiftLeft,
	"alt":        input.AltLeft,
	"option":     input.AltLeft,
	"meta":       input.MetaLeft,
	"cmd":        input.MetaLeft,
	"command":    input.MetaLeft,
	"super":      input.MetaLeft,
	"win":        input.MetaLeft,
	"f1":         input.F1,
	"f2":         input.F2,
	"f3":         input.F3,
	"f4":         input.F4,
	"f5":         input.F5,
	"f6":         input.F6,
	"f7":         input.F7,
	"f8":         input.F8,
	"f9":         input.F9,
	"f10":        input.F10,
	"f11":        input.F11,
	"f12":        input.F12,
}

// LookupKey maps a key name to a keyboard key. Single printable ASCII
// characters map to themselves.
func LookupKey(name string) (input.Key, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	if k, ok := namedKeys[name]; ok {
		return k, true
	}
	if len(name) == 1 && isTypeable(rune(name[0])) {
		return input.Key(name[0]), true
	}
	return 0, false
}

// isTypeable reports whether r has a key on the emulated US keyboard.
func isTypeable(r rune) bool {
	return r >= 0x20 && r <= 0x7e
}
