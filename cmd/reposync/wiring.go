package main

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zextras/reposync/internal/config"
	"github.com/zextras/reposync/internal/executor"
	"github.com/zextras/reposync/internal/fetch"
	"github.com/zextras/reposync/internal/scheduler"
	"github.com/zextras/reposync/internal/sign"
	"github.com/zextras/reposync/internal/statestore"
	"github.com/zextras/reposync/internal/statusapi"
	"github.com/zextras/reposync/internal/storage"
	"github.com/zextras/reposync/reposync"
)

// buildManager assembles a fully wired scheduler.Manager: one
// executor.Deps per configured repository, each with its own Storage
// backend and state document, per spec.md §5's repository-isolation
// requirement.
func buildManager(cfg *config.File) (*scheduler.Manager, error) {
	depsByRepo := make(map[string]executor.Deps, len(cfg.Repos))
	for _, repo := range cfg.Repos {
		d, err := buildDeps(cfg.General, repo)
		if err != nil {
			return nil, fmt.Errorf("reposync: wiring %q: %w", repo.Name, err)
		}
		depsByRepo[repo.Name] = d
	}
	return scheduler.New(cfg.Repos, depsByRepo, cfg.General.MinSyncDelay, cfg.General.MaxSyncDelay), nil
}

func buildDeps(gen config.General, repo reposync.Repository) (executor.Deps, error) {
	backend, invalidator, err := buildStorage(repo)
	if err != nil {
		return executor.Deps{}, err
	}
	// The state document always lives under data_path on local disk,
	// independent of the repository's own publish destination (which may be
	// a remote S3 bucket with no convenient place to keep daemon-private
	// bookkeeping).
	stateBackend := &storage.Local{Root: gen.DataPath}

	var creds fetch.Credentials
	if repo.Auth != nil {
		creds = fetch.Credentials{User: repo.Auth.User, Pass: repo.Auth.Password, File: repo.Auth.PasswordFile}
	}
	fetcher := &fetch.HTTPFetcher{
		Client:     http.DefaultClient,
		Creds:      creds,
		TmpDir:     gen.TmpPath,
		Timeout:    gen.Timeout,
		MaxRetries: gen.MaxRetries,
		RetrySleep: gen.RetrySleep,
	}

	var verifier sign.Verifier = sign.NoopVerifier{}
	if len(repo.PublicKeys) > 0 {
		v, err := sign.NewOpenPGPVerifier(repo.PublicKeys...)
		if err != nil {
			return executor.Deps{}, fmt.Errorf("loading public keys: %w", err)
		}
		verifier = v
	}

	var indexer executor.Indexer
	switch repo.Kind {
	case reposync.KindAPT:
		indexer = executor.AptIndexer{}
	case reposync.KindRPM:
		indexer = executor.RpmIndexer{}
	default:
		return executor.Deps{}, fmt.Errorf("unsupported kind %q", repo.Kind)
	}

	return executor.Deps{
		Indexer:     indexer,
		Fetcher:     fetcher,
		Verifier:    verifier,
		Storage:     backend,
		Invalidator: invalidator,
		StateStore:  statestore.New(stateBackend),
	}, nil
}

func buildStorage(repo reposync.Repository) (storage.Storage, storage.Invalidator, error) {
	switch {
	case repo.Destination.Local != nil:
		return &storage.Local{Root: repo.Destination.Local.Path}, nil, nil
	case repo.Destination.S3 != nil:
		s3dest := repo.Destination.S3
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(s3dest.Region))
		if err != nil {
			return nil, nil, fmt.Errorf("loading aws config: %w", err)
		}
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if s3dest.Endpoint != "" {
				o.BaseEndpoint = &s3dest.Endpoint
			}
		})
		backend := &storage.S3{Client: client, Bucket: s3dest.Bucket, Prefix: s3dest.Prefix}

		var invalidator storage.Invalidator
		if s3dest.CDN != nil {
			cfClient := cloudfront.NewFromConfig(awsCfg)
			invalidator = &storage.CloudFront{Client: cfClient, DistributionID: s3dest.CDN.DistributionID}
		}
		return backend, invalidator, nil
	default:
		return nil, nil, fmt.Errorf("repository %q has no valid destination", repo.Name)
	}
}

func newStatusHandler(m *scheduler.Manager) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", statusapi.NewHandler(m))
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// targets resolves repoName (possibly reposync.AllRepos) to the concrete
// set of repository names a one-shot sync should wait on.
func targets(m *scheduler.Manager, repoName string) []string {
	if repoName != reposync.AllRepos {
		return []string{repoName}
	}
	names := m.Names()
	sort.Strings(names)
	return names
}

func allSettled(m *scheduler.Manager, names []string) bool {
	for _, n := range names {
		s, ok := m.Status(n)
		if !ok || s.Phase == reposync.PhaseSyncing {
			return false
		}
	}
	return true
}

func reportOutcomes(m *scheduler.Manager, names []string) error {
	var failed []string
	for _, n := range names {
		s, ok := m.Status(n)
		if ok && s.LastResult != "" && s.LastResult != reposync.ResultOK {
			failed = append(failed, fmt.Sprintf("%s: %s", n, s.LastResult))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("reposync: %d repositories failed: %v", len(failed), failed)
	}
	return nil
}
