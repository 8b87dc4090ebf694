package ports

import "context"

// Logger is the logging contract used by every component. Field maps carry
// structured context (signal ids, ticket ids, prices).
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...map[string]interface{})
	Info(ctx context.Context, msg string, fields ...map[string]interface{})
	Warn(ctx context.Context, msg string, fields ...map[string]interface{})
	Error(ctx context.Context, err error, msg string, fields ...map[string]interface{})
}
