package storage

import "github.com/vaultforge/syncd/pkg/types"

// Store defines the interface for vault-sync state storage: user accounts,
// vault metadata, shares, file version rows, and publish sites. It is
// implemented by BoltDB-backed storage.
type Store interface {
	// Users
	CreateUser(user types.User) error
	GetUser(email string) (types.User, error)
	DeleteUser(email string) error

	// Vault metadata (4.C)
	NewVault(name, owner, password, salt, keyhash string, sizeQuota int64) (types.Vault, error)
	GetVault(id, keyhash string) (types.Vault, error)
	SetVaultVersion(id string, version int64) error
	HasAccess(vaultID, email string) (bool, error)
	DeleteVault(id, ownerEmail string) error
	ShareInvite(email, name, vaultID string) (types.Share, error)
	ShareRevoke(shareUID string) error
	GetVaultShares(vaultID string) ([]types.Share, error)
	GetSharedVaults(email string) ([]types.Vault, error)
	GetVaults(ownerEmail string) ([]types.Vault, error)
	ListAllVaults() ([]types.Vault, error)

	// Vault file store (4.D)
	InsertMetadata(row types.File) (uint64, error)
	InsertData(uid uint64, data []byte) error
	DeleteVaultFile(vaultID, path string) error
	RestoreFile(vaultID string, uid uint64) (types.File, error)
	GetFile(vaultID string, uid uint64) (types.File, error)
	GetVaultFiles(vaultID string) ([]types.File, error)
	GetFileHistory(vaultID, path string) ([]types.File, error)
	GetDeletedFiles(vaultID string) ([]types.File, error)
	GetVaultSize(vaultID string) (int64, error)
	Snapshot(vaultID string) error

	// Publish store (4.G)
	CreateSite(owner string) (types.Site, error)
	DeleteSite(siteID string) error
	SetSlug(slug, id string) error
	GetSlug(slug string) (types.Site, error)
	GetSites(owner string) ([]types.Site, error)
	ListAllSites() ([]types.Site, error)
	GetSiteOwner(id string) (string, error)
	GetSiteSlug(id string) (string, error)
	NewPublishFile(file types.PublishFile) error
	RemovePublishFile(siteID, path string) error
	GetPublishFiles(siteID string) ([]types.PublishFile, error)
	GetPublishFile(siteID, path string) (types.PublishFile, error)

	Close() error
}
