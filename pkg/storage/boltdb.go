package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/vaultforge/syncd/pkg/errs"
	"github.com/vaultforge/syncd/pkg/security"
	"github.com/vaultforge/syncd/pkg/types"
)

var (
	bucketUsers        = []byte("users")
	bucketVaults       = []byte("vaults")
	bucketShares       = []byte("shares")
	bucketFiles        = []byte("files")
	bucketFilesNewest  = []byte("files_newest")
	bucketSites        = []byte("sites")
	bucketSlugs        = []byte("slugs")
	bucketPublishFiles = []byte("publish_files")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) <dataDir>/vaults.db and ensures
// every bucket exists.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "vaults.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketUsers, bucketVaults, bucketShares,
			bucketFiles, bucketFilesNewest,
			bucketSites, bucketSlugs, bucketPublishFiles,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// --- Users ---

func (s *BoltStore) CreateUser(user types.User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketUsers), []byte(user.Email), user)
	})
}

func (s *BoltStore) GetUser(email string) (types.User, error) {
	var user types.User
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(email))
		if data == nil {
			return errs.New(errs.NotFound, "user %q not found", email)
		}
		return json.Unmarshal(data, &user)
	})
	return user, err
}

func (s *BoltStore) DeleteUser(email string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketUsers).Delete([]byte(email))
	})
}

// --- Vault metadata (4.C) ---

func (s *BoltStore) NewVault(name, owner, password, salt, keyhash string, sizeQuota int64) (types.Vault, error) {
	if password == "" && keyhash == "" {
		return types.Vault{}, errs.New(errs.InvalidInput, "one of password or keyhash is required")
	}
	if keyhash == "" {
		computed, err := security.MakeKeyhash(password, salt)
		if err != nil {
			return types.Vault{}, errs.Wrap(err, "compute keyhash")
		}
		keyhash = computed
	}

	vault := types.Vault{
		ID:        uuid.NewString(),
		UserEmail: owner,
		Created:   nowMillis(),
		Name:      name,
		Password:  password,
		Salt:      salt,
		SizeQuota: sizeQuota,
		Version:   0,
		Keyhash:   keyhash,
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketVaults), []byte(vault.ID), vault)
	})
	return vault, err
}

func (s *BoltStore) GetVault(id, keyhash string) (types.Vault, error) {
	vault, err := s.getVaultUnchecked(id)
	if err != nil {
		return types.Vault{}, err
	}
	if !security.KeyhashEqual(vault.Keyhash, keyhash) {
		return types.Vault{}, errs.New(errs.Forbidden, "keyhash mismatch for vault %q", id)
	}
	return vault, nil
}

func (s *BoltStore) getVaultUnchecked(id string) (types.Vault, error) {
	var vault types.Vault
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketVaults).Get([]byte(id))
		if data == nil {
			return errs.New(errs.NotFound, "vault %q not found", id)
		}
		return json.Unmarshal(data, &vault)
	})
	return vault, err
}

func (s *BoltStore) SetVaultVersion(id string, version int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVaults)
		data := b.Get([]byte(id))
		if data == nil {
			return errs.New(errs.NotFound, "vault %q not found", id)
		}
		var vault types.Vault
		if err := json.Unmarshal(data, &vault); err != nil {
			return err
		}
		vault.Version = version
		return putJSON(b, []byte(id), vault)
	})
}

func (s *BoltStore) HasAccess(vaultID, email string) (bool, error) {
	vault, err := s.getVaultUnchecked(vaultID)
	if err != nil {
		if errs.KindOf(err) == errs.NotFound {
			return false, nil
		}
		return false, err
	}
	if vault.UserEmail == email {
		return true, nil
	}

	shared := false
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketShares).ForEach(func(_, v []byte) error {
			var share types.Share
			if err := json.Unmarshal(v, &share); err != nil {
				return err
			}
			if share.VaultID == vaultID && share.Email == email {
				shared = true
			}
			return nil
		})
	})
	return shared, err
}

func (s *BoltStore) DeleteVault(id, ownerEmail string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVaults)
		data := b.Get([]byte(id))
		if data == nil {
			return nil // silent no-op per spec.md §4.C
		}
		var vault types.Vault
		if err := json.Unmarshal(data, &vault); err != nil {
			return err
		}
		if vault.UserEmail != ownerEmail {
			return nil // silent no-op: owner mismatch
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ShareInvite(email, name, vaultID string) (types.Share, error) {
	share := types.Share{UID: uuid.NewString(), Email: email, Name: name, VaultID: vaultID}
	err := s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketShares), []byte(share.UID), share)
	})
	return share, err
}

func (s *BoltStore) ShareRevoke(shareUID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketShares).Delete([]byte(shareUID))
	})
}

func (s *BoltStore) GetVaultShares(vaultID string) ([]types.Share, error) {
	var shares []types.Share
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketShares).ForEach(func(_, v []byte) error {
			var share types.Share
			if err := json.Unmarshal(v, &share); err != nil {
				return err
			}
			if share.VaultID == vaultID {
				shares = append(shares, share)
			}
			return nil
		})
	})
	return shares, err
}

func (s *BoltStore) GetSharedVaults(email string) ([]types.Vault, error) {
	var vaultIDs []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketShares).ForEach(func(_, v []byte) error {
			var share types.Share
			if err := json.Unmarshal(v, &share); err != nil {
				return err
			}
			if share.Email == email {
				vaultIDs = append(vaultIDs, share.VaultID)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	vaults := make([]types.Vault, 0, len(vaultIDs))
	for _, id := range vaultIDs {
		vault, err := s.getVaultUnchecked(id)
		if err != nil {
			if errs.KindOf(err) == errs.NotFound {
				continue
			}
			return nil, err
		}
		vaults = append(vaults, vault)
	}
	return vaults, nil
}

func (s *BoltStore) GetVaults(ownerEmail string) ([]types.Vault, error) {
	var vaults []types.Vault
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVaults).ForEach(func(_, v []byte) error {
			var vault types.Vault
			if err := json.Unmarshal(v, &vault); err != nil {
				return err
			}
			if vault.UserEmail == ownerEmail {
				vaults = append(vaults, vault)
			}
			return nil
		})
	})
	return vaults, err
}

// ListAllVaults returns every vault regardless of owner, for periodic
// metrics collection.
func (s *BoltStore) ListAllVaults() ([]types.Vault, error) {
	var vaults []types.Vault
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVaults).ForEach(func(_, v []byte) error {
			var vault types.Vault
			if err := json.Unmarshal(v, &vault); err != nil {
				return err
			}
			vaults = append(vaults, vault)
			return nil
		})
	})
	return vaults, err
}

// --- Vault file store (4.D) ---

func newestKey(vaultID, path string) []byte {
	key := make([]byte, 0, len(vaultID)+1+len(path))
	key = append(key, vaultID...)
	key = append(key, 0)
	key = append(key, path...)
	return key
}

func uidKey(uid uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uid)
	return key
}

func (s *BoltStore) InsertMetadata(row types.File) (uint64, error) {
	var uid uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		index := tx.Bucket(bucketFilesNewest)

		now := nowMillis()
		if row.Created == 0 {
			row.Created = now
		}
		if row.Modified == 0 {
			row.Modified = now
		}

		key := newestKey(row.VaultID, row.Path)
		if prevUID := index.Get(key); prevUID != nil {
			if err := flipNewestOff(files, prevUID); err != nil {
				return err
			}
		}

		seq, err := files.NextSequence()
		if err != nil {
			return err
		}
		uid = seq
		row.UID = uid
		row.Newest = true

		if err := putJSON(files, uidKey(uid), row); err != nil {
			return err
		}
		return index.Put(key, uidKey(uid))
	})
	return uid, err
}

func flipNewestOff(files *bolt.Bucket, uidBytes []byte) error {
	data := files.Get(uidBytes)
	if data == nil {
		return nil
	}
	var row types.File
	if err := json.Unmarshal(data, &row); err != nil {
		return err
	}
	row.Newest = false
	return putJSON(files, uidBytes, row)
}

func (s *BoltStore) InsertData(uid uint64, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		key := uidKey(uid)
		raw := files.Get(key)
		if raw == nil {
			return errs.New(errs.NotFound, "file uid %d not found", uid)
		}
		var row types.File
		if err := json.Unmarshal(raw, &row); err != nil {
			return err
		}
		row.Data = data
		return putJSON(files, key, row)
	})
}

func (s *BoltStore) DeleteVaultFile(vaultID, path string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		c := files.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row types.File
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.VaultID != vaultID || row.Path != path {
				continue
			}
			row.Deleted = true
			row.IsSnapshot = true
			if err := putJSON(files, k, row); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) RestoreFile(vaultID string, uid uint64) (types.File, error) {
	var restored types.File
	err := s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		key := uidKey(uid)
		raw := files.Get(key)
		if raw == nil {
			return errs.New(errs.NotFound, "file uid %d not found", uid)
		}
		var target types.File
		if err := json.Unmarshal(raw, &target); err != nil {
			return err
		}
		if target.VaultID != vaultID {
			return errs.New(errs.Forbidden, "file uid %d does not belong to vault %q", uid, vaultID)
		}

		target.Deleted = false
		target.Newest = true
		if err := putJSON(files, key, target); err != nil {
			return err
		}

		c := files.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			if string(k) == string(key) {
				continue
			}
			var row types.File
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.VaultID != vaultID || row.Path != target.Path || row.Deleted {
				continue
			}
			row.Newest = false
			if err := putJSON(files, k, row); err != nil {
				return err
			}
		}

		index := tx.Bucket(bucketFilesNewest)
		restored = target
		restored.Data = nil // push descriptor carries metadata only
		return index.Put(newestKey(vaultID, target.Path), key)
	})
	return restored, err
}

func (s *BoltStore) GetFile(vaultID string, uid uint64) (types.File, error) {
	var row types.File
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFiles).Get(uidKey(uid))
		if data == nil {
			return errs.New(errs.NotFound, "file uid %d not found", uid)
		}
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		if row.VaultID != vaultID {
			return errs.New(errs.NotFound, "file uid %d not found", uid)
		}
		return nil
	})
	return row, err
}

func (s *BoltStore) GetVaultFiles(vaultID string) ([]types.File, error) {
	var result []types.File
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			var row types.File
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.VaultID == vaultID && !row.Deleted && row.Newest {
				result = append(result, row)
			}
			return nil
		})
	})
	return result, err
}

func (s *BoltStore) GetFileHistory(vaultID, path string) ([]types.File, error) {
	var result []types.File
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			var row types.File
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.VaultID == vaultID && row.Path == path {
				result = append(result, row)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Modified > result[j].Modified })
	return result, nil
}

func (s *BoltStore) GetDeletedFiles(vaultID string) ([]types.File, error) {
	var result []types.File
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			var row types.File
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.VaultID == vaultID && row.Deleted && row.Newest {
				result = append(result, row)
			}
			return nil
		})
	})
	return result, err
}

func (s *BoltStore) GetVaultSize(vaultID string) (int64, error) {
	var total int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			var row types.File
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.VaultID == vaultID {
				total += row.Size
			}
			return nil
		})
	})
	return total, err
}

// Snapshot compacts a vault's version history inside one transaction:
// promote every newest row to a protected snapshot, drop every
// unprotected historical row, then drop orphaned metadata left behind by
// an upload whose insert_data never arrived.
func (s *BoltStore) Snapshot(vaultID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		files := tx.Bucket(bucketFiles)
		index := tx.Bucket(bucketFilesNewest)

		type entry struct {
			key []byte
			row types.File
		}
		var rows []entry
		c := files.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var row types.File
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.VaultID != vaultID {
				continue
			}
			key := append([]byte(nil), k...)
			if row.Newest {
				row.IsSnapshot = true
			}
			rows = append(rows, entry{key: key, row: row})
		}

		survivors := make(map[string]types.File, len(rows))
		for _, e := range rows {
			if !e.row.IsSnapshot {
				if err := files.Delete(e.key); err != nil {
					return err
				}
				continue
			}
			survivors[string(e.key)] = e.row
		}

		for key, row := range survivors {
			if row.Size != 0 && len(row.Data) == 0 {
				if err := files.Delete([]byte(key)); err != nil {
					return err
				}
				delete(survivors, key)
				continue
			}
			if err := putJSON(files, []byte(key), row); err != nil {
				return err
			}
		}

		newestPerPath := make(map[string][]byte)
		for key, row := range survivors {
			if row.Newest {
				newestPerPath[row.Path] = []byte(key)
			}
		}
		for path, key := range newestPerPath {
			if err := index.Put(newestKey(vaultID, path), key); err != nil {
				return err
			}
		}
		return nil
	})
}

// --- Publish store (4.G) ---

func (s *BoltStore) CreateSite(owner string) (types.Site, error) {
	id := uuid.NewString()
	site := types.Site{ID: id, Owner: owner, Slug: id, Created: nowMillis()}
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := putJSON(tx.Bucket(bucketSites), []byte(site.ID), site); err != nil {
			return err
		}
		return tx.Bucket(bucketSlugs).Put([]byte(site.Slug), []byte(site.ID))
	})
	return site, err
}

func (s *BoltStore) DeleteSite(siteID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sites := tx.Bucket(bucketSites)
		data := sites.Get([]byte(siteID))
		if data == nil {
			return nil
		}
		var site types.Site
		if err := json.Unmarshal(data, &site); err != nil {
			return err
		}
		if err := tx.Bucket(bucketSlugs).Delete([]byte(site.Slug)); err != nil {
			return err
		}
		return sites.Delete([]byte(siteID))
	})
}

func (s *BoltStore) SetSlug(slug, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		sites := tx.Bucket(bucketSites)
		data := sites.Get([]byte(id))
		if data == nil {
			return errs.New(errs.NotFound, "site %q not found", id)
		}
		var site types.Site
		if err := json.Unmarshal(data, &site); err != nil {
			return err
		}

		slugs := tx.Bucket(bucketSlugs)
		if existing := slugs.Get([]byte(slug)); existing != nil && string(existing) != id {
			return errs.New(errs.Conflict, "slug %q already in use", slug)
		}
		if err := slugs.Delete([]byte(site.Slug)); err != nil {
			return err
		}
		site.Slug = slug
		if err := slugs.Put([]byte(slug), []byte(id)); err != nil {
			return err
		}
		return putJSON(sites, []byte(id), site)
	})
}

func (s *BoltStore) GetSlug(slug string) (types.Site, error) {
	var site types.Site
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketSlugs).Get([]byte(slug))
		if id == nil {
			return errs.New(errs.NotFound, "slug %q not found", slug)
		}
		data := tx.Bucket(bucketSites).Get(id)
		if data == nil {
			return errs.New(errs.NotFound, "slug %q not found", slug)
		}
		return json.Unmarshal(data, &site)
	})
	return site, err
}

func (s *BoltStore) GetSites(owner string) ([]types.Site, error) {
	var sites []types.Site
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSites).ForEach(func(_, v []byte) error {
			var site types.Site
			if err := json.Unmarshal(v, &site); err != nil {
				return err
			}
			if site.Owner == owner {
				sites = append(sites, site)
			}
			return nil
		})
	})
	return sites, err
}

// ListAllSites returns every published site regardless of owner, for
// periodic metrics collection.
func (s *BoltStore) ListAllSites() ([]types.Site, error) {
	var sites []types.Site
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSites).ForEach(func(_, v []byte) error {
			var site types.Site
			if err := json.Unmarshal(v, &site); err != nil {
				return err
			}
			sites = append(sites, site)
			return nil
		})
	})
	return sites, err
}

func (s *BoltStore) GetSiteOwner(id string) (string, error) {
	site, err := s.getSite(id)
	if err != nil {
		return "", err
	}
	return site.Owner, nil
}

func (s *BoltStore) GetSiteSlug(id string) (string, error) {
	site, err := s.getSite(id)
	if err != nil {
		return "", err
	}
	return site.Slug, nil
}

func (s *BoltStore) getSite(id string) (types.Site, error) {
	var site types.Site
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSites).Get([]byte(id))
		if data == nil {
			return errs.New(errs.NotFound, "site %q not found", id)
		}
		return json.Unmarshal(data, &site)
	})
	return site, err
}

func publishFileKey(slug, path string) []byte {
	key := make([]byte, 0, len(slug)+1+len(path))
	key = append(key, slug...)
	key = append(key, 0)
	key = append(key, path...)
	return key
}

func (s *BoltStore) NewPublishFile(file types.PublishFile) error {
	now := nowMillis()
	if file.Ctime == 0 {
		file.Ctime = now
	}
	file.Mtime = now
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketPublishFiles), publishFileKey(file.Slug, file.Path), file)
	})
}

func (s *BoltStore) RemovePublishFile(siteID, path string) error {
	site, err := s.getSite(siteID)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPublishFiles).Delete(publishFileKey(site.Slug, path))
	})
}

func (s *BoltStore) GetPublishFiles(siteID string) ([]types.PublishFile, error) {
	site, err := s.getSite(siteID)
	if err != nil {
		return nil, err
	}

	var files []types.PublishFile
	prefix := append([]byte(site.Slug), 0)
	err = s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPublishFiles).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var file types.PublishFile
			if err := json.Unmarshal(v, &file); err != nil {
				return err
			}
			files = append(files, file)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func (s *BoltStore) GetPublishFile(siteID, path string) (types.PublishFile, error) {
	site, err := s.getSite(siteID)
	if err != nil {
		return types.PublishFile{}, err
	}

	var file types.PublishFile
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPublishFiles).Get(publishFileKey(site.Slug, path))
		if data == nil {
			return errs.New(errs.NotFound, "file %q not found in site %q", path, siteID)
		}
		return json.Unmarshal(data, &file)
	})
	return file, err
}

func hasPrefix(key, prefix []byte) bool {
	if len(key) < len(prefix) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}
