package core

// Logger is any leveled logging service.
// Implementations may inspect args for well-known types (errors, logged-in users)
// and attach them to the log entry.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
