package reposync

import "fmt"

// Kind is the upstream repository flavor.
type Kind string

const (
	KindAPT Kind = "apt"
	KindRPM Kind = "rpm"
)

// AllRepos is the reserved name that refers to every configured repository
// at once; no repository may be configured with this name.
const AllRepos = "all"

// Credentials carries HTTP basic-auth credentials for an upstream fetch.
// Per the configuration's documented ambiguity (spec.md §9), when both a
// file and inline credentials are configured, the file takes precedence.
// PasswordFile, when set, is re-read on every fetch attempt by
// internal/fetch, so a rotated credential takes effect without a restart;
// Password is carried only as the inline fallback and is what the config
// loader uses to validate a configured password_file is readable up front.
type Credentials struct {
	User         string
	Password     string
	PasswordFile string
}

// LocalDestination publishes to a path on the local filesystem.
type LocalDestination struct {
	Path string
}

// CDNDestination describes a CloudFront distribution to invalidate after
// publication.
type CDNDestination struct {
	DistributionID string
}

// S3Destination publishes to an S3-compatible bucket, optionally fronted by
// a CDN that must be invalidated on publish.
type S3Destination struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // non-empty for S3-compatible (non-AWS) endpoints
	CDN      *CDNDestination
}

// Destination is exactly one of Local or S3.
type Destination struct {
	Local *LocalDestination
	S3    *S3Destination
}

// Validate enforces "exactly one of local or s3" from spec.md §6.
func (d Destination) Validate() error {
	switch {
	case d.Local != nil && d.S3 != nil:
		return fmt.Errorf("reposync: destination specifies both local and s3")
	case d.Local == nil && d.S3 == nil:
		return fmt.Errorf("reposync: destination specifies neither local nor s3")
	}
	return nil
}

// Repository is the immutable, configuration-provided description of one
// upstream mirror.
type Repository struct {
	Name        string
	Kind        Kind
	BaseURL     string
	Auth        *Credentials
	PublicKeys  []string // armored OpenPGP public keys; empty means verification is skipped
	Suites      []string // APT suites (versions) to mirror; unused for RPM
	Destination Destination
}

// Validate checks the repository-level invariants named in spec.md §3 and
// §6: the reserved name is forbidden and the destination is well-formed.
func (r Repository) Validate() error {
	if r.Name == AllRepos {
		return fmt.Errorf("reposync: repository name %q is reserved", AllRepos)
	}
	if r.Name == "" {
		return fmt.Errorf("reposync: repository name is empty")
	}
	switch r.Kind {
	case KindAPT, KindRPM:
	default:
		return fmt.Errorf("reposync: repository %q has unknown kind %q", r.Name, r.Kind)
	}
	return r.Destination.Validate()
}
