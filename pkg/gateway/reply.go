package gateway

import "strings"

// CleanLine strips transport noise from a line received from the controller:
// surrounding whitespace, a trailing "^xx" or "*xx" checksum and a ":ss"
// sequence id. Checksums are not verified here; the WiFi module has already
// validated the serial frame.
func CleanLine(line string) string {
	line = strings.TrimSpace(strings.TrimRight(line, "\x00"))

	if n := len(line); n >= 3 && (line[n-3] == '^' || line[n-3] == '*') && isHex(line[n-2:]) {
		line = line[:n-3]
	}
	if n := len(line); n >= 3 && line[n-3] == ':' && isHex(line[n-2:]) {
		line = line[:n-3]
	}
	return strings.TrimSpace(line)
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return s != ""
}

// commandTopic is where a command with the given mnemonic is published
func commandTopic(baseTopic, mnemonic string) string {
	return baseTopic + "/rapi/in/" + mnemonic
}

// replyTopic carries correlated replies (and, on some firmware, events)
func replyTopic(baseTopic string) string {
	return baseTopic + "/rapi/out"
}
