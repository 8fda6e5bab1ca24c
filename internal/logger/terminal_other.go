//go:build !linux && !darwin

package logger

// isTerminal conservatively reports false on platforms without a termios probe.
func isTerminal(fd uintptr) bool {
	return false
}
