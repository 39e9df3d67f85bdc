package ui

import "fmt"

func Debugf(enabled bool, format string, a ...any) {
	if enabled {
		fmt.Print("\033[33m")
		fmt.Printf("[DEBUG] "+format, a...)
		fmt.Print("\033[0m")
	}
}

func Greenf(format string, a ...any) {
	fmt.Print("\033[92m")
	fmt.Printf(format, a...)
	fmt.Print("\033[0m")
}

func Warningf(format string, a ...any) {
	fmt.Print("\033[93m")
	fmt.Printf(format, a...)
	fmt.Print("\033[0m")
}

func Errorf(format string, a ...any) {
	fmt.Print("\033[91m")
	fmt.Printf(format, a...)
	fmt.Print("\033[0m")
}

func ClearScreen() {
	fmt.Print("\033[2J\033[1;1H")
}
