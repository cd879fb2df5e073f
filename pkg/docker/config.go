package docker

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
)

type BasicAuth string

func NewBasicAuth(username, password string) BasicAuth {
	return BasicAuth(base64.StdEncoding.EncodeToString(
		[]byte(fmt.Sprintf("%s:%s", username, password))))
}

func (v BasicAuth) Decode() (string, string, error) {
	bytes, err := base64.StdEncoding.DecodeString(string(v))
	if err != nil {
		return "", "", err
	}
	split := strings.SplitN(string(bytes), ":", 2)
	if len(split) != 2 {
		return "", "", fmt.Errorf("expected username and password concatenated with a colon (:)")
	}
	return split[0], split[1], nil
}

func (v BasicAuth) String() string {
	return "[REDACTED]"
}

// Auth represent credentials used to login to a container registry.
type Auth struct {
	Auth     BasicAuth `json:"auth,omitempty"`
	Username string    `json:"username,omitempty"`
	Password string    `json:"password,omitempty"`
}

func (v Auth) String() string {
	return "[REDACTED]"
}

// Config represents Docker configuration which is typically saved as
// `~/.docker/config.json`. Only static credentials are supported,
// credential helpers are ignored.
type Config struct {
	Auths map[string]Auth `json:"auths"`
}

// LoadConfig reads and decodes the Docker config file at path.
func LoadConfig(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading docker config: %w", err)
	}
	config := &Config{}
	if err := config.Read(contents); err != nil {
		return nil, fmt.Errorf("decoding docker config %s: %w", path, err)
	}
	return config, nil
}

func (c *Config) Read(contents []byte) error {
	if err := json.Unmarshal(contents, c); err != nil {
		return err
	}
	var err error
	c.Auths, err = decodeAuths(c.Auths)
	return err
}

func decodeAuths(auths map[string]Auth) (map[string]Auth, error) {
	decodedAuths := make(map[string]Auth)
	for server, entry := range auths {
		if entry == (Auth{}) {
			continue
		}

		if strings.TrimSpace(string(entry.Auth)) == "" {
			decodedAuths[server] = Auth{
				Username: entry.Username,
				Password: entry.Password,
			}
			continue
		}

		username, password, err := entry.Auth.Decode()
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", server, err)
		}

		decodedAuths[server] = Auth{
			Auth:     entry.Auth,
			Username: username,
			Password: password,
		}
	}
	return decodedAuths, nil
}

// CredentialsFor returns the credentials of the registry hosting imageRef.
func (c *Config) CredentialsFor(imageRef string) (Auth, bool, error) {
	if c == nil || len(c.Auths) == 0 {
		return Auth{}, false, nil
	}
	server, err := GetServerFromImageRef(imageRef)
	if err != nil {
		return Auth{}, false, err
	}
	for key, auth := range c.Auths {
		keyServer, err := GetServerFromDockerAuthKey(key)
		if err != nil {
			continue
		}
		if keyServer == server || (server == name.DefaultRegistry && keyServer == "docker.io") {
			return auth, true, nil
		}
	}
	return Auth{}, false, nil
}

// GetServerFromImageRef returns registry server from the specified imageRef.
func GetServerFromImageRef(imageRef string) (string, error) {
	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return "", err
	}
	return ref.Context().RegistryStr(), nil
}

// GetServerFromDockerAuthKey returns the registry server for the specified Docker auth key.
//
// In ~/.docker/config.json auth keys can be specified as URLs or host names.
// For the sake of comparison we need to normalize the registry identifier.
func GetServerFromDockerAuthKey(key string) (string, error) {
	absoluteURL := key

	if !(strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://")) {
		absoluteURL = "https://" + absoluteURL
	}

	parsed, err := url.Parse(absoluteURL)
	if err != nil {
		return "", err
	}

	return parsed.Host, nil
}
