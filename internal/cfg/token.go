package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// TokenEnvVar is the name of the environment variable that contains the
// GitHub API token.
const TokenEnvVar = "GITHUB_ACCESS_TOKEN"

// TokenSource describes where the GitHub API token was read from.
type TokenSource string

const (
	TokenSourceNone        TokenSource = ""
	TokenSourceEnvironment TokenSource = "environment"
	TokenSourceSecretsFile TokenSource = "secrets_file"
	TokenSourceConfigFile  TokenSource = "config_file"
)

// LoadToken returns the GitHub API token.
// It is read from the environment variable GITHUB_ACCESS_TOKEN, if it is
// not set from the dotenv file SecretsFile, if it does not contain it from
// the github_api_token setting.
// A SecretsFile that does not exist is ignored.
func (c *Config) LoadToken() (string, TokenSource, error) {
	if token := os.Getenv(TokenEnvVar); token != "" {
		return token, TokenSourceEnvironment, nil
	}

	if c.SecretsFile != "" {
		secrets, err := godotenv.Read(c.SecretsFile)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", TokenSourceNone, fmt.Errorf("reading secrets file %q failed: %w", c.SecretsFile, err)
		}

		if token := secrets[TokenEnvVar]; token != "" {
			return token, TokenSourceSecretsFile, nil
		}
	}

	if c.GithubAPIToken != "" {
		return c.GithubAPIToken, TokenSourceConfigFile, nil
	}

	return "", TokenSourceNone, fmt.Errorf("github api token is not set, set the %s environment variable, define it in the secrets file or set github_api_token in the config file", TokenEnvVar)
}
