package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/intelgate/intelgate/internal/connector/credentials"
)

const envPrefix = "INTELGATE_SECRET_"

// EnvStore reads credentials from environment variables. Each credential
// ID maps to one variable holding a JSON object, e.g.
//
//	INTELGATE_SECRET_LEAKDB_MAIN={"apiKey":"...","token":"..."}
//
// Intended for local development; production deployments use RedisStore.
type EnvStore struct{}

// NewEnvStore creates an environment-backed store.
func NewEnvStore() *EnvStore { return &EnvStore{} }

// Fetch decodes the variable for the given credential ID.
func (s *EnvStore) Fetch(ctx context.Context, credentialID string) (*credentials.Credentials, error) {
	name := envPrefix + sanitize(credentialID)
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return nil, fmt.Errorf("credential %q not found (env %s unset)", credentialID, name)
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to decode credential %q: %w", credentialID, err)
	}

	return &credentials.Credentials{Values: values}, nil
}

func sanitize(id string) string {
	id = strings.ToUpper(id)
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, id)
}
