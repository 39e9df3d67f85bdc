package ui

import (
	"sync"

	"github.com/eiannone/keyboard"
)

// Key runes emitted for non-character keys.
const (
	KeyEsc       rune = 27
	KeyEnter     rune = '\r'
	KeyBackspace rune = '\b'
)

var (
	keyCh     chan rune
	startOnce sync.Once
)

// StartKeyEvents returns a channel that emits single-key runes read without
// Enter. Enter, Esc, Space and Backspace are mapped to runes as well.
func StartKeyEvents() chan rune {
	startOnce.Do(func() {
		keyCh = make(chan rune, 64)
		if err := keyboard.Open(); err != nil {
			// Keyboard not available; keep a buffered channel that will never emit.
			return
		}
		go func() {
			defer keyboard.Close()
			for {
				char, key, err := keyboard.GetKey()
				if err != nil {
					close(keyCh)
					return
				}
				r := char
				switch key {
				case 0:
				case keyboard.KeyEsc:
					r = KeyEsc
				case keyboard.KeyEnter:
					r = KeyEnter
				case keyboard.KeySpace:
					r = ' '
				case keyboard.KeyBackspace, keyboard.KeyBackspace2:
					r = KeyBackspace
				case keyboard.KeyCtrlC:
					r = KeyEsc
				default:
					continue
				}
				select {
				case keyCh <- r:
				default:
				}
			}
		}()
	})
	return keyCh
}

// StopKeyEvents restores the terminal.
func StopKeyEvents() {
	_ = keyboard.Close()
}

// DrainKeys consumes any immediately available keys to avoid accidental triggers.
func DrainKeys() {
	ch := StartKeyEvents()
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
