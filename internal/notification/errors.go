package notification

import (
	"strings"
	"unicode/utf8"
)

const maxErrorLength = 500

// Stored messages for failures that need operator action.
const (
	MsgInvalidCredentials = "Invalid bot credentials: check the auth token of the alert config"
	MsgInvalidDestination = "Invalid destination: chat not found or bot removed from the chat"
)

// ErrorKind groups raw failure text by what an operator has to fix.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindCredentials
	KindDestination
)

var (
	destinationMarkers = []string{"chat not found", "kicked"}
	credentialMarkers  = []string{"unauthorized", "forbidden", "invalid token"}
)

// Classify inspects raw failure text. Destination markers are checked first:
// "Forbidden: bot was kicked" names the chat, not the token.
func Classify(detail string) ErrorKind {
	lower := strings.ToLower(detail)
	switch {
	case containsAny(lower, destinationMarkers):
		return KindDestination
	case containsAny(lower, credentialMarkers):
		return KindCredentials
	default:
		return KindOther
	}
}

// SanitizeError maps raw failure text to the message stored on a log.
func SanitizeError(detail string) string {
	switch Classify(detail) {
	case KindDestination:
		return MsgInvalidDestination
	case KindCredentials:
		return MsgInvalidCredentials
	}
	detail = strings.TrimSpace(detail)
	if utf8.RuneCountInString(detail) > maxErrorLength {
		detail = string([]rune(detail)[:maxErrorLength])
	}
	return detail
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
