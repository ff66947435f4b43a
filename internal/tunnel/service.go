// Package tunnel provisions user domains at the tunneling provider and keeps
// the local tunnel records consistent with the provider's records.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"tunnel-billing/internal/apperr"
	"tunnel-billing/internal/config"
	"tunnel-billing/internal/lipstick"
	"tunnel-billing/internal/models"
	"tunnel-billing/internal/store"
)

type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateTunnel(ctx context.Context, tunnel *models.Tunnel) error
	ListTunnelsByUser(ctx context.Context, userID uint) ([]models.Tunnel, error)
	FindTunnelForUser(ctx context.Context, id, userID uint) (*models.Tunnel, error)
	SaveTunnel(ctx context.Context, tunnel *models.Tunnel) error
}

type Provider interface {
	FetchDomain(ctx context.Context, domain string) (*lipstick.Domain, error)
	CreateDomain(ctx context.Context, domain, apiKey string) error
}

type Notifier interface {
	Notify(ctx context.Context, userID uint, message string)
}

type CreateInput struct {
	Domain                   string
	IsEnabled                bool
	AllowMultipleConnections bool
}

// UpdateInput carries optional changes; nil fields are left untouched.
type UpdateInput struct {
	IsEnabled                *bool
	AllowMultipleConnections *bool
}

type Options struct {
	ListMode        string
	ListConcurrency int
	Notifier        Notifier
	Logger          logrus.FieldLogger
	// APIKeyFunc overrides key generation.
	APIKeyFunc func() (string, error)
}

type Service struct {
	repo            Repository
	provider        Provider
	notifier        Notifier
	log             logrus.FieldLogger
	listMode        string
	listConcurrency int
	newAPIKey       func() (string, error)
}

func NewService(repo Repository, provider Provider, opts Options) *Service {
	s := &Service{
		repo:            repo,
		provider:        provider,
		notifier:        opts.Notifier,
		log:             opts.Logger,
		listMode:        opts.ListMode,
		listConcurrency: opts.ListConcurrency,
		newAPIKey:       opts.APIKeyFunc,
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	s.log = s.log.WithField("component", "tunnel")
	if s.listMode == "" {
		s.listMode = config.TunnelListPartial
	}
	if s.listConcurrency < 1 {
		s.listConcurrency = 1
	}
	if s.newAPIKey == nil {
		s.newAPIKey = GenerateAPIKey
	}
	return s
}

// Create inserts the tunnel and registers its domain at the provider inside
// one local transaction, then reads the provider record back for the key.
//
// A provider failure rolls the insert back. A read-back failure happens after
// commit: the tunnel is durable but the caller still gets an error.
func (s *Service) Create(ctx context.Context, userID uint, in CreateInput) (*View, error) {
	if userID == 0 {
		return nil, apperr.Unauthorized("Unauthorized")
	}
	domain, err := normalizeDomain(in.Domain)
	if err != nil {
		return nil, err
	}

	apiKey, err := s.newAPIKey()
	if err != nil {
		return nil, apperr.Internal("Error while generating api key", err)
	}

	tunnel := &models.Tunnel{
		Domain:                   domain,
		IsEnabled:                in.IsEnabled,
		AllowMultipleConnections: in.AllowMultipleConnections,
		UserID:                   userID,
	}
	log := s.log.WithFields(logrus.Fields{"user_id": userID, "domain": domain})

	remoteCreated := false
	err = s.repo.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.CreateTunnel(ctx, tunnel); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return apperr.Conflict("domain", "Domain is already registered")
			}
			return apperr.Storage("Error while creating tunnel in database", err)
		}

		if err := s.provider.CreateDomain(ctx, domain, apiKey); err != nil {
			if errors.Is(err, lipstick.ErrDomainExists) {
				return apperr.ProviderConflict("Tunnel already exists in Lipstick", err)
			}
			return apperr.Provider("Error while creating domain in Lipstick", err)
		}
		remoteCreated = true
		return nil
	})
	if err != nil {
		if remoteCreated {
			// Commit failed after the provider accepted the domain.
			log.WithError(err).Error("domain registered at provider but local commit failed")
			return nil, apperr.Storage("Error while creating tunnel in database", err)
		}
		log.WithError(err).Warn("tunnel creation rolled back")
		return nil, storageIfUntyped(err, "Error while creating tunnel in database")
	}

	remote, err := s.provider.FetchDomain(ctx, domain)
	if err != nil {
		log.WithError(err).WithField("tunnel_id", tunnel.ID).
			Warn("tunnel committed but provider read-back failed")
		return nil, apperr.Provider("Error while fetching domain from Lipstick", err)
	}

	log.WithField("tunnel_id", tunnel.ID).Info("tunnel provisioned")
	s.notify(ctx, userID, fmt.Sprintf("Tunnel for %s is ready.", domain))

	view := NewView(tunnel, remote.APIKey)
	return &view, nil
}

// List returns the user's tunnels with their current provider API keys.
// Provider reads run concurrently up to the configured limit. In strict mode
// any failed read fails the whole list; otherwise the item carries an error.
func (s *Service) List(ctx context.Context, userID uint) ([]View, error) {
	if userID == 0 {
		return nil, apperr.Unauthorized("Unauthorized")
	}

	tunnels, err := s.repo.ListTunnelsByUser(ctx, userID)
	if err != nil {
		return nil, apperr.Storage("Error while loading tunnels", err)
	}

	views := make([]View, len(tunnels))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.listConcurrency)

	for i := range tunnels {
		g.Go(func() error {
			t := &tunnels[i]
			remote, err := s.provider.FetchDomain(gctx, t.Domain)
			if err != nil {
				if s.listMode == config.TunnelListStrict {
					return apperr.Provider("Error while fetching domain from Lipstick", err)
				}
				s.log.WithError(err).WithFields(logrus.Fields{"tunnel_id": t.ID, "domain": t.Domain}).
					Warn("provider read failed while listing")
				views[i] = NewView(t, "")
				views[i].Error = "Error while fetching domain from Lipstick"
				return nil
			}
			views[i] = NewView(t, remote.APIKey)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

// Update toggles local flags on a tunnel owned by userID. Tunnels owned by
// other users are reported as not found.
func (s *Service) Update(ctx context.Context, userID, id uint, in UpdateInput) (*View, error) {
	if userID == 0 {
		return nil, apperr.Unauthorized("Unauthorized")
	}

	var tunnel *models.Tunnel
	err := s.repo.InTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.FindTunnelForUser(ctx, id, userID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("tunnel", "Tunnel not found")
		}
		if err != nil {
			return apperr.Storage("Error while loading tunnel", err)
		}

		if in.IsEnabled != nil {
			t.IsEnabled = *in.IsEnabled
		}
		if in.AllowMultipleConnections != nil {
			t.AllowMultipleConnections = *in.AllowMultipleConnections
		}

		if err := s.repo.SaveTunnel(ctx, t); err != nil {
			return apperr.Storage("Error while updating tunnel", err)
		}
		tunnel = t
		return nil
	})
	if err != nil {
		return nil, storageIfUntyped(err, "Error while updating tunnel")
	}

	view := NewView(tunnel, "")
	return &view, nil
}

func (s *Service) notify(ctx context.Context, userID uint, message string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, userID, message)
}

// storageIfUntyped classifies errors raised by the transaction itself (begin or
// commit) as storage failures.
func storageIfUntyped(err error, msg string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Storage(msg, err)
}

func normalizeDomain(raw string) (string, error) {
	domain := strings.ToLower(strings.TrimSpace(raw))
	if domain == "" {
		return "", apperr.Validation("domain", "Domain is required")
	}
	if strings.ContainsAny(domain, " /\\:?#@") || strings.HasPrefix(domain, ".") || strings.HasSuffix(domain, ".") {
		return "", apperr.Validation("domain", "Domain is invalid")
	}
	return domain, nil
}
