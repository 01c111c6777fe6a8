package ports

import "context"

// Logger is the leveled, structured logging port injected into every
// component; nothing in the engine logs through a package-level global.
// Trailing field maps are merged into the emitted record, later maps
// overriding earlier keys.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	// Error records err alongside the message; err may be nil.
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
