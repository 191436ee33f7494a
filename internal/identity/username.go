package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"pkt.systems/workbay/schema"
)

const (
	// DefaultUsernamePrefix namespaces provisioned accounts so they are
	// recognizable next to regular system users.
	DefaultUsernamePrefix = "wb"

	maxUsernameLen = 32
	// 10 hex chars (40 bits) keep accidental suffix collisions out of
	// reach for any plausible account population.
	hashSuffixLen = 10
)

// DeriveUsername maps a normalized email to a deterministic OS account
// name. The local part keeps the name readable; the hash suffix over the
// full address keeps distinct emails from colliding after truncation.
func DeriveUsername(prefix string, email schema.Email) (schema.Username, error) {
	if prefix == "" {
		prefix = DefaultUsernamePrefix
	}
	at := strings.IndexByte(string(email), '@')
	if at <= 0 {
		return "", schema.ErrInvalidEmail
	}
	local := sanitizeLocalPart(string(email)[:at])
	sum := sha256.Sum256([]byte(email))
	suffix := hex.EncodeToString(sum[:hashSuffixLen/2])

	// prefix + "-" + local + "-" + suffix must fit the OS limit.
	maxLocal := maxUsernameLen - len(prefix) - len(suffix) - 2
	if len(local) > maxLocal {
		local = strings.TrimRight(local[:maxLocal], "-")
	}
	username := schema.Username(prefix + "-" + local + "-" + suffix)
	if err := schema.ValidateUsername(username); err != nil {
		return "", err
	}
	return username, nil
}

func sanitizeLocalPart(local string) string {
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(local) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "u"
	}
	return out
}
