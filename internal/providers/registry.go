package providers

import (
	"fmt"

	"signaltrader/internal/ports"
)

// Factory builds a message source from its config argument (a path, a token,
// whatever the source needs).
type Factory func(arg string, logger ports.Logger) (ports.MessageSource, error)

// registry maps source names to constructors. External channel adapters
// (Telegram, Discord) register themselves here at startup.
var registry = map[string]Factory{
	"replay": func(arg string, logger ports.Logger) (ports.MessageSource, error) {
		if arg == "" {
			return nil, fmt.Errorf("replay source requires a capture file path")
		}
		return NewReplaySource(arg, logger), nil
	},
}

// Register adds a source constructor under name, replacing any previous one.
func Register(name string, f Factory) {
	registry[name] = f
}

// Build constructs the named source.
func Build(name, arg string, logger ports.Logger) (ports.MessageSource, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown message source %q", name)
	}
	return f(arg, logger)
}
