package ui

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseFloats parses exactly n finite numbers separated by spaces or commas.
func ParseFloats(s string, n int) ([]float64, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t' || r == ';'
	})
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d numbers, got %d", n, len(fields))
	}
	out := make([]float64, n)
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%q is not a number", f)
		}
		out[i] = v
	}
	return out, nil
}

// ReadLine echoes typed keys until Enter. ok is false when Esc is pressed
// or the keyboard goes away.
func ReadLine(prompt string) (line string, ok bool) {
	keys := StartKeyEvents()
	fmt.Print(prompt)
	var b []rune
	for {
		r, open := <-keys
		if !open {
			fmt.Println()
			return "", false
		}
		switch r {
		case KeyEsc:
			fmt.Println()
			return "", false
		case KeyEnter:
			fmt.Println()
			return string(b), true
		case KeyBackspace:
			if len(b) > 0 {
				b = b[:len(b)-1]
				fmt.Print("\b \b")
			}
		default:
			b = append(b, r)
			fmt.Print(string(r))
		}
	}
}

// ReadFloats prompts until n numbers are entered or the operator cancels.
func ReadFloats(prompt string, n int) ([]float64, bool) {
	for {
		line, ok := ReadLine(prompt)
		if !ok {
			return nil, false
		}
		vals, err := ParseFloats(line, n)
		if err == nil {
			return vals, true
		}
		Warningf("%v, try again\n", err)
	}
}
