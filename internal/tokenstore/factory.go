package tokenstore

import (
	"fmt"

	"mcpgate/internal/config"
	"mcpgate/pkg/logging"
)

// New returns the store selected by cfg.Backend.
func New(cfg config.TokenStoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.TokenBackendMemory, "":
		logging.Info("TokenStore", "Using in-memory token store; tokens are lost on restart")
		return NewMemoryStore(), nil
	case config.TokenBackendFile:
		store, err := NewFileStore(cfg.Dir, cfg.Secret)
		if err != nil {
			return nil, err
		}
		logging.Info("TokenStore", "Using encrypted file token store at %s", cfg.Dir)
		return store, nil
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.Backend)
	}
}
