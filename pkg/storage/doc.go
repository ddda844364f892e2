/*
Package storage provides BoltDB-backed persistence for vault-sync state:
user accounts, vault metadata, shares, file version rows, and publish
sites.

# Buckets

	users          email -> User
	vaults         vault id -> Vault
	shares         share uid -> Share
	files          big-endian uint64 uid -> File (data included when present)
	files_newest   vault_id + 0x00 + path -> uid of the current newest row
	sites          site id -> Site
	slugs          slug -> site id
	publish_files  slug + 0x00 + path -> PublishFile

files_newest is what makes "at most one newest row per (vault_id, path)"
hold in a key-value store: InsertMetadata reads the prior newest uid for
a path, flips that row's Newest field off, writes the new row, and
repoints the index — all inside one bbolt.Update transaction.

# Transaction model

Every multi-step operation (insert_metadata's flip-then-insert,
restore_file's flip-then-unflip, snapshot's three passes) runs inside a
single db.Update callback. BoltDB serializes writers and gives readers a
consistent MVCC snapshot, so no additional locking is needed around a
single *BoltStore.

# Scoping

delete_vault_file, get_deleted_files, and get_file all take vault_id
explicitly and filter on it. The source this was distilled from does
not scope delete/get-deleted by vault, which lets one vault's delete or
trash view bleed into another vault that happens to share a path; this
implementation closes that by construction.
*/
package storage
