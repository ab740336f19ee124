package phone

import (
	"strconv"
	"strings"
)

// Normalize reduces a raw Brazilian or Uruguayan number to digits with
// country code. It returns "" when the number cannot be valid.
func Normalize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	n := b.String()
	if n == "" {
		return ""
	}

	// carrier prefix such as 021
	if len(n) > 11 && strings.HasPrefix(n, "0") {
		n = n[3:]
	}

	switch {
	case strings.HasPrefix(n, "598"):
	case strings.HasPrefix(n, "09") && len(n) == 9:
		n = "598" + n[1:]
	case strings.HasPrefix(n, "9") && len(n) == 8:
		n = "598" + n
	default:
		if !strings.HasPrefix(n, "55") && (len(n) == 10 || len(n) == 11) {
			n = "55" + n
		}
		// drop the ninth digit for area codes up to 28
		if strings.HasPrefix(n, "55") && len(n) == 13 {
			if ddd, err := strconv.Atoi(n[2:4]); err == nil && ddd <= 28 {
				n = n[:4] + n[5:]
			}
		}
	}

	if strings.HasPrefix(n, "55") && (len(n) < 12 || len(n) > 13) {
		return ""
	}
	if strings.HasPrefix(n, "598") && (len(n) < 11 || len(n) > 12) {
		return ""
	}
	if len(n) < 10 || len(n) > 15 {
		return ""
	}
	return n
}

// FromJID strips the WhatsApp suffix from a remote JID.
func FromJID(jid string) string {
	if i := strings.IndexByte(jid, '@'); i >= 0 {
		return jid[:i]
	}
	return jid
}

// IsGroupJID reports whether the JID addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us")
}
