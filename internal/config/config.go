package config

import (
	"log"
	"sync"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	DbURI string `env:"KUVERT_DB_URI" envDefault:"./kuvert.sqlite"`

	APIInterface    string `env:"KUVERT_API_INTERFACE" envDefault:"0.0.0.0"`
	APIPort         int    `env:"KUVERT_API_PORT" envDefault:"8080"`
	APIAutoTLS      bool   `env:"KUVERT_API_AUTO_TLS" envDefault:"false"` // use echo AutoTLSManager for getting a certificate for KUVERT_HOSTNAME
	APIAutoTLSEmail string `env:"KUVERT_API_AUTO_TLS_EMAIL"`              // account email for Let's Encrypt
	Hostname        string `env:"KUVERT_HOSTNAME"`

	// AdminToken guards the key management endpoints. Empty disables them.
	AdminToken string `env:"KUVERT_ADMIN_TOKEN"`

	BrevoAPIKey  string `env:"KUVERT_BREVO_API_KEY"`
	BrevoBaseURL string `env:"KUVERT_BREVO_BASE_URL" envDefault:"https://api.brevo.com"`

	// WebhookToken is the shared verification token the provider webhook
	// must present as ?token=. Empty means the webhook is not configured.
	WebhookToken string `env:"KUVERT_WEBHOOK_TOKEN"`

	DefaultFromName  string `env:"KUVERT_DEFAULT_FROM_NAME"`
	DefaultFromEmail string `env:"KUVERT_DEFAULT_FROM_EMAIL"`

	LogLevel string `env:"KUVERT_LOG_LEVEL" envDefault:"info"`
}

var (
	once sync.Once
	cfg  Config
)

func Get() *Config {
	once.Do(func() {
		cfg = Config{}
		if err := env.Parse(&cfg); err != nil {
			log.Panic("Couldn't parse Config from env: ", err)
		}
	})
	return &cfg
}
