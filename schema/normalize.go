package schema

import "strings"

const (
	maxEmailLength     = 254
	maxWorkspaceLength = 64
)

// NormalizeEmail validates and lowercases a caller email. The gateway
// authenticates it; this only guards against garbage reaching the core.
func NormalizeEmail(raw string) (Email, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > maxEmailLength {
		return "", ErrInvalidEmail
	}
	at := strings.IndexByte(trimmed, '@')
	if at <= 0 || at == len(trimmed)-1 {
		return "", ErrInvalidEmail
	}
	if strings.ContainsAny(trimmed, " \t\r\n/\\") {
		return "", ErrInvalidEmail
	}
	return Email(strings.ToLower(trimmed)), nil
}

// NormalizeWorkspaceName validates a workspace name.
// Allowed characters: A-Z, a-z, 0-9, '.', '_', '-'; must start with a
// letter or digit and fit in 64 characters.
func NormalizeWorkspaceName(raw string) (WorkspaceName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > maxWorkspaceLength {
		return "", ErrInvalidWorkspace
	}
	for i, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
			if i == 0 {
				return "", ErrInvalidWorkspace
			}
		default:
			return "", ErrInvalidWorkspace
		}
	}
	return WorkspaceName(trimmed), nil
}

// ValidateUsername ensures a derived username matches [a-z][a-z0-9_-]* and
// fits the conservative 32-character OS limit.
func ValidateUsername(username Username) error {
	raw := string(username)
	if raw == "" || len(raw) > 32 {
		return ErrInvalidEmail
	}
	for i, r := range raw {
		switch {
		case r >= 'a' && r <= 'z':
		case (r >= '0' && r <= '9') || r == '_' || r == '-':
			if i == 0 {
				return ErrInvalidEmail
			}
		default:
			return ErrInvalidEmail
		}
	}
	return nil
}
