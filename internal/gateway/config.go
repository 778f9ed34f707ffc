package gateway

import (
	"time"

	"github.com/andreasstove999/storefront/internal/platform/config"
)

type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`

	// Upstream base URLs (inside docker network recommended)
	OrderURL     string `env:"ORDER_URL" envDefault:"http://order-service:8082"`
	InventoryURL string `env:"INVENTORY_URL" envDefault:"http://inventory-service:8083"`

	CORSAllowOrigins []string `env:"CORS_ALLOW_ORIGINS" envSeparator:"," envDefault:"*"`
	CORSMaxAge       int      `env:"CORS_MAX_AGE" envDefault:"600"`

	JWTSecret string `env:"JWT_SECRET,notEmpty"`

	Telemetry config.Telemetry
}

func (c Config) CORS() CORSConfig {
	return CORSConfig{AllowOrigins: c.CORSAllowOrigins, MaxAge: c.CORSMaxAge}
}
