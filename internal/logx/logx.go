package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/workbay/schema"
)

type contextKey int

const userKey contextKey = iota

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithUser annotates the logger with the caller email if present.
func WithUser(ctx context.Context, email schema.Email) pslog.Logger {
	log := pslog.Ctx(ctx)
	if email != "" {
		if current, ok := ctx.Value(userKey).(schema.Email); ok && current == email {
			return log
		}
		log = log.With("user", email)
	}
	return log
}

// WithWorkspace annotates the logger with a workspace name when available.
func WithWorkspace(log pslog.Logger, workspace schema.WorkspaceName) pslog.Logger {
	if workspace != "" {
		log = log.With("workspace", workspace)
	}
	return log
}

// WithToken annotates the logger with a transfer token when available.
func WithToken(log pslog.Logger, token schema.TransferToken) pslog.Logger {
	if token != "" {
		log = log.With("token", token)
	}
	return log
}

// ContextWithUser stores the user marker on the context for log de-duplication.
func ContextWithUser(ctx context.Context, email schema.Email) context.Context {
	if ctx == nil || email == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey, email)
}
