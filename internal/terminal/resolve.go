package terminal

import (
	"os"

	"github.com/wtfpos/posd/internal/config"
)

const DefaultName = "main"

// Resolve determines the active terminal name using precedence:
// 1. flagOverride (--terminal flag)
// 2. $POS_TERMINAL
// 3. config.toml default_terminal
// 4. "main"
func Resolve(flagOverride string) string {
	if flagOverride != "" {
		return flagOverride
	}
	if v := os.Getenv(config.EnvTerminal); v != "" {
		return v
	}
	cfg, err := config.Load(ConfigPath())
	if err == nil && cfg.DefaultTerminal != "" {
		return cfg.DefaultTerminal
	}
	return DefaultName
}
