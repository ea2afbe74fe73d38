// Package config loads the repository mirroring daemon's YAML configuration
// file, named in spec.md §6: a general block of daemon-wide settings plus
// the list of repositories to mirror.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zextras/reposync/reposync"
)

// General holds the daemon-wide settings from the "general" YAML block.
// Duration fields are written as Go duration strings ("30s", "5m", "6h"),
// which yaml.v3 decodes into time.Duration; bare integers are rejected.
type General struct {
	DataPath     string        `yaml:"data_path"`
	TmpPath      string        `yaml:"tmp_path"`
	BindAddress  string        `yaml:"bind_address"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetrySleep   time.Duration `yaml:"retry_sleep"`
	MinSyncDelay time.Duration `yaml:"min_sync_delay"`
	MaxSyncDelay time.Duration `yaml:"max_sync_delay"`
}

func (g *General) setDefaults() {
	if g.TmpPath == "" {
		g.TmpPath = os.TempDir()
	}
	if g.BindAddress == "" {
		g.BindAddress = "127.0.0.1:8080"
	}
	if g.Timeout == 0 {
		g.Timeout = 30 * time.Second
	}
	if g.MaxRetries == 0 {
		g.MaxRetries = 3
	}
	if g.RetrySleep == 0 {
		g.RetrySleep = time.Second
	}
	if g.MinSyncDelay == 0 {
		g.MinSyncDelay = 5 * time.Minute
	}
	if g.MaxSyncDelay == 0 {
		g.MaxSyncDelay = 6 * time.Hour
	}
}

// rawCredentials mirrors reposync.Credentials but additionally accepts a
// password_file, letting operators keep secrets out of the YAML document
// (spec.md's supplemented "credential file precedence" feature).
type rawCredentials struct {
	User         string `yaml:"user"`
	Password     string `yaml:"password,omitempty"`
	PasswordFile string `yaml:"password_file,omitempty"`
}

type rawDestination struct {
	Local *struct {
		Path string `yaml:"path"`
	} `yaml:"local,omitempty"`
	S3 *struct {
		Bucket   string `yaml:"bucket"`
		Prefix   string `yaml:"prefix,omitempty"`
		Region   string `yaml:"region"`
		Endpoint string `yaml:"endpoint,omitempty"`
		CDN      *struct {
			DistributionID string `yaml:"distribution_id"`
		} `yaml:"cdn,omitempty"`
	} `yaml:"s3,omitempty"`
}

type rawRepo struct {
	Name        string          `yaml:"name"`
	Kind        string          `yaml:"kind"`
	BaseURL     string          `yaml:"base_url"`
	Auth        *rawCredentials `yaml:"auth,omitempty"`
	PublicKeys  []string        `yaml:"public_keys,omitempty"`
	Suites      []string        `yaml:"suites,omitempty"`
	Destination rawDestination  `yaml:"destination"`
}

type rawFile struct {
	General General   `yaml:"general"`
	Repos   []rawRepo `yaml:"repo"`
}

// File is a fully loaded and validated configuration document.
type File struct {
	General General
	Repos   []reposync.Repository
}

// Load reads and parses path, resolving password_file references and
// validating every repository (spec.md §6's "check" action runs exactly
// this and nothing more).
func Load(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	var raw rawFile
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	if raw.General.DataPath == "" {
		return nil, fmt.Errorf("config: general.data_path is required")
	}
	raw.General.setDefaults()

	repos := make([]reposync.Repository, 0, len(raw.Repos))
	for i, r := range raw.Repos {
		repo, err := toRepository(r)
		if err != nil {
			return nil, fmt.Errorf("config: repo[%d]: %w", i, err)
		}
		if err := repo.Validate(); err != nil {
			return nil, fmt.Errorf("config: repo[%d] %q: %w", i, repo.Name, err)
		}
		repos = append(repos, repo)
	}
	if err := checkDuplicateNames(repos); err != nil {
		return nil, err
	}

	return &File{General: raw.General, Repos: repos}, nil
}

func checkDuplicateNames(repos []reposync.Repository) error {
	seen := make(map[string]bool, len(repos))
	for _, r := range repos {
		if seen[r.Name] {
			return fmt.Errorf("config: duplicate repository name %q", r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

func toRepository(r rawRepo) (reposync.Repository, error) {
	var kind reposync.Kind
	switch r.Kind {
	case "apt":
		kind = reposync.KindAPT
	case "rpm":
		kind = reposync.KindRPM
	default:
		return reposync.Repository{}, fmt.Errorf("unknown kind %q", r.Kind)
	}

	var creds *reposync.Credentials
	if r.Auth != nil {
		user, pass, err := resolveCredentials(*r.Auth)
		if err != nil {
			return reposync.Repository{}, err
		}
		creds = &reposync.Credentials{User: user, Password: pass, PasswordFile: r.Auth.PasswordFile}
	}

	dest, err := toDestination(r.Destination)
	if err != nil {
		return reposync.Repository{}, err
	}

	return reposync.Repository{
		Name:        r.Name,
		Kind:        kind,
		BaseURL:     r.BaseURL,
		Auth:        creds,
		PublicKeys:  r.PublicKeys,
		Suites:      r.Suites,
		Destination: dest,
	}, nil
}

// resolveCredentials implements password_file-over-inline precedence: if a
// file is configured, its (trimmed) contents win over any inline password.
func resolveCredentials(c rawCredentials) (user, pass string, err error) {
	if c.PasswordFile != "" {
		b, err := os.ReadFile(c.PasswordFile)
		if err != nil {
			return "", "", fmt.Errorf("reading password_file %q: %w", c.PasswordFile, err)
		}
		return c.User, trimNewline(string(b)), nil
	}
	return c.User, c.Password, nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func toDestination(d rawDestination) (reposync.Destination, error) {
	var dest reposync.Destination
	if d.Local != nil {
		dest.Local = &reposync.LocalDestination{Path: d.Local.Path}
	}
	if d.S3 != nil {
		s3 := &reposync.S3Destination{
			Bucket:   d.S3.Bucket,
			Prefix:   d.S3.Prefix,
			Region:   d.S3.Region,
			Endpoint: d.S3.Endpoint,
		}
		if d.S3.CDN != nil {
			s3.CDN = &reposync.CDNDestination{DistributionID: d.S3.CDN.DistributionID}
		}
		dest.S3 = s3
	}
	return dest, nil
}
