package lib

import "strings"

// EstimateBase64Bytes estimates the decoded size of a base64 payload from its
// length alone, without allocating a decode buffer: floor(n*3/4) minus padding.
func EstimateBase64Bytes(data string) int {
	s := strings.TrimSpace(data)
	n := len(s)
	padding := 0
	if strings.HasSuffix(s, "==") {
		padding = 2
	} else if strings.HasSuffix(s, "=") {
		padding = 1
	}
	size := n*3/4 - padding
	if size < 0 {
		return 0
	}
	return size
}

// FirstLine returns the first line of s truncated to max runes, trimmed of
// surrounding whitespace.
func FirstLine(s string, max int) string {
	line := strings.TrimSpace(s)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	runes := []rune(line)
	if len(runes) > max {
		return string(runes[:max])
	}
	return line
}
