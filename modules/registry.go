// Package modules provides the built-in pipeline modules referenced by
// x-modules lists and translated security requirements: key_auth, oauth,
// validate, access_log and cors.
package modules

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/declarest/declarest/core"
)

// Config carries the knobs shared by module constructors. Zero values mean
// defaults: no body size limit, all origins, global logger.
type Config struct {
	MaxBodySize    int64
	AllowedOrigins []string
	Logger         *zap.Logger

	// HTTPClient overrides the outbound client used by the oauth module.
	// Tests point it at a fake issuer.
	HTTPClient *http.Client
}

// New constructs a built-in module by name.
func New(name string, cfg Config) (core.Module, error) {
	switch name {
	case "key_auth":
		return &KeyAuth{}, nil
	case "oauth":
		return NewOAuth(cfg.HTTPClient), nil
	case "validate":
		return &Validate{MaxBodySize: cfg.MaxBodySize}, nil
	case "access_log":
		return NewAccessLog(cfg.Logger), nil
	case "cors":
		return NewCORS(cfg.AllowedOrigins), nil
	default:
		return nil, fmt.Errorf("unknown module %q", name)
	}
}
