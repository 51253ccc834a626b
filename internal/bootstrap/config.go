package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultOrganization is used for a superuser created without naming an organization.
const DefaultOrganization = "Default Organization"

// Seed describes the organizations and first users to create.
//
//	organizations:
//	  - name: acme
//	    users:
//	      - username: alice
//	        password: change-me-please
//	        staff: true
type Seed struct {
	Organizations []SeedOrganization `yaml:"organizations"`
}

// SeedOrganization is one organization and its initial users.
type SeedOrganization struct {
	Name  string     `yaml:"name"`
	Users []SeedUser `yaml:"users"`
}

// SeedUser is a user created inside its enclosing organization.
type SeedUser struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Staff     bool   `yaml:"staff"`
	Superuser bool   `yaml:"superuser"`
}

// Result counts what a Seed run changed.
type Result struct {
	OrganizationsCreated int
	UsersCreated         int
	UsersSkipped         int
}

// LoadSeed reads and validates a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML. Unknown keys are rejected.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}

	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks names are present and unique where storage will require it.
func (s *Seed) Validate() error {
	if len(s.Organizations) == 0 {
		return errors.New("seed has no organizations")
	}

	orgNames := make(map[string]struct{}, len(s.Organizations))
	for i, org := range s.Organizations {
		name := strings.TrimSpace(org.Name)
		if name == "" {
			return fmt.Errorf("organization %d has no name", i)
		}
		if _, dup := orgNames[name]; dup {
			return fmt.Errorf("organization %q listed twice", name)
		}
		orgNames[name] = struct{}{}

		usernames := make(map[string]struct{}, len(org.Users))
		for j, u := range org.Users {
			username := strings.TrimSpace(u.Username)
			if username == "" {
				return fmt.Errorf("organization %q: user %d has no username", name, j)
			}
			if _, dup := usernames[username]; dup {
				return fmt.Errorf("organization %q: user %q listed twice", name, username)
			}
			usernames[username] = struct{}{}
		}
	}

	return nil
}
