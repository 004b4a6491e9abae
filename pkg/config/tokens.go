package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTokens resolves the static bearer token table. File entries load
// first, then inline entries override on conflict.
func (a AuthConfig) LoadTokens() (map[string]string, error) {
	tokens := make(map[string]string)

	if a.TokenFile != "" {
		data, err := os.ReadFile(a.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("read token file %s: %w", a.TokenFile, err)
		}
		var fromFile map[string]string
		if err := yaml.Unmarshal(data, &fromFile); err != nil {
			return nil, fmt.Errorf("parse token file %s: %w", a.TokenFile, err)
		}
		for token, principal := range fromFile {
			tokens[token] = principal
		}
	}

	for token, principal := range a.Tokens {
		tokens[token] = principal
	}

	return tokens, nil
}
