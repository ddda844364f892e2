// Package publish implements the owner-scoped static site store and the
// public-facing router that serves a published site's files (spec.md
// §4.G). Service guards every write with an ownership check the way
// pkg/storage's own ownership-guarded DeleteVault does; Router only ever
// reads, so it needs no such check.
package publish

import (
	"github.com/vaultforge/syncd/pkg/config"
	"github.com/vaultforge/syncd/pkg/errs"
	"github.com/vaultforge/syncd/pkg/storage"
	"github.com/vaultforge/syncd/pkg/types"
)

// Service owns the per-user site quota and the ownership checks the raw
// storage.Store layer doesn't perform itself.
type Service struct {
	store storage.Store
	cfg   config.Config
}

// NewService builds a Service backed by store.
func NewService(store storage.Store, cfg config.Config) *Service {
	return &Service{store: store, cfg: cfg}
}

// CreateSite creates a new site for owner, rejecting once MaxSitesPerUser
// is reached.
func (s *Service) CreateSite(owner string) (types.Site, error) {
	sites, err := s.store.GetSites(owner)
	if err != nil {
		return types.Site{}, err
	}
	if len(sites) >= s.cfg.MaxSitesPerUser {
		return types.Site{}, errs.New(errs.QuotaExceeded, "owner %q already has the maximum of %d published sites", owner, s.cfg.MaxSitesPerUser)
	}
	return s.store.CreateSite(owner)
}

// DeleteSite removes siteID, refusing unless owner actually owns it.
func (s *Service) DeleteSite(siteID, owner string) error {
	if err := s.checkOwner(siteID, owner); err != nil {
		return err
	}
	return s.store.DeleteSite(siteID)
}

// SetSlug repoints siteID's public handle, refusing unless owner actually
// owns it.
func (s *Service) SetSlug(siteID, slug, owner string) error {
	if err := s.checkOwner(siteID, owner); err != nil {
		return err
	}
	return s.store.SetSlug(slug, siteID)
}

// Sites lists every site owned by owner.
func (s *Service) Sites(owner string) ([]types.Site, error) {
	return s.store.GetSites(owner)
}

// UploadFile upserts one file into siteID's published content, refusing
// unless owner actually owns the site.
func (s *Service) UploadFile(siteID, owner string, file types.PublishFile) error {
	if err := s.checkOwner(siteID, owner); err != nil {
		return err
	}
	slug, err := s.store.GetSiteSlug(siteID)
	if err != nil {
		return err
	}
	file.Slug = slug
	return s.store.NewPublishFile(file)
}

// RemoveFile deletes one file from siteID's published content, refusing
// unless owner actually owns the site.
func (s *Service) RemoveFile(siteID, owner, path string) error {
	if err := s.checkOwner(siteID, owner); err != nil {
		return err
	}
	return s.store.RemovePublishFile(siteID, path)
}

// Files lists the files published under siteID, refusing unless owner
// actually owns the site.
func (s *Service) Files(siteID, owner string) ([]types.PublishFile, error) {
	if err := s.checkOwner(siteID, owner); err != nil {
		return nil, err
	}
	return s.store.GetPublishFiles(siteID)
}

func (s *Service) checkOwner(siteID, owner string) error {
	actual, err := s.store.GetSiteOwner(siteID)
	if err != nil {
		return err
	}
	if actual != owner {
		return errs.New(errs.Forbidden, "site %q is not owned by %q", siteID, owner)
	}
	return nil
}
