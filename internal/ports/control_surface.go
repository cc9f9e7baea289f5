package ports

import "context"

// ControlSurface is the password-gated administrative interface.
type ControlSurface interface {
	SetAdminPassword(password string)
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}
