package config

import (
	"gopkg.in/yaml.v3"

	"github.com/bdobrica/kioku/common/redact"
)

// Redacted returns a copy of c with every secret masked.
func (c Config) Redacted() Config {
	out := c
	out.Hook.BearerToken = redact.Secret(c.Hook.BearerToken)
	out.Hook.HMACSecret = redact.Secret(c.Hook.HMACSecret)
	out.Embedding.APIKey = redact.Secret(c.Embedding.APIKey)
	out.Summariser.APIKey = redact.Secret(c.Summariser.APIKey)
	out.Matrix.AccessToken = redact.Secret(c.Matrix.AccessToken)
	return out
}

// YAML renders the redacted configuration in the file format Load reads.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
