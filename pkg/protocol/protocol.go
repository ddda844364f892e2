// Package protocol defines the wire frames of the vault sync session
// (spec.md §4.E): a tagged-union Frame decoded from each inbound text
// frame and dispatched by an exhaustive switch on its Op, plus the
// Message type used to build every server-side reply.
package protocol

import (
	"encoding/json"
	"strconv"

	"github.com/vaultforge/syncd/pkg/types"
)

// Op discriminates an inbound client frame.
type Op string

const (
	OpInit    Op = "init"
	OpSize    Op = "size"
	OpPull    Op = "pull"
	OpPush    Op = "push"
	OpHistory Op = "history"
	OpPing    Op = "ping"
	OpDeleted Op = "deleted"
	OpRestore Op = "restore"

	// OpReady and OpPong are also used as Op values on outbound Messages.
	OpReady Op = "ready"
	OpPong  Op = "pong"
	OpOk    Op = "ok"
)

// Frame is an inbound client frame. Every op uses a subset of these
// fields; unused fields decode to their zero value.
type Frame struct {
	Op Op `json:"op"`

	// INIT
	Token   string          `json:"token,omitempty"`
	ID      string          `json:"id,omitempty"` // vault_id
	Keyhash string          `json:"keyhash,omitempty"`
	Version json.RawMessage `json:"version,omitempty"`
	Initial bool            `json:"initial,omitempty"`
	Device  string          `json:"device,omitempty"`

	// pull / push / history / restore
	UID       *uint64 `json:"uid,omitempty"`
	Path      string  `json:"path,omitempty"`
	Extension string  `json:"extension,omitempty"`
	Hash      string  `json:"hash,omitempty"`
	Ctime     int64   `json:"ctime,omitempty"`
	Mtime     int64   `json:"mtime,omitempty"`
	Folder    bool    `json:"folder,omitempty"`
	Deleted   bool    `json:"deleted,omitempty"`
	Size      int64   `json:"size,omitempty"`
	Pieces    int     `json:"pieces,omitempty"`
}

// ParseVersion parses the INIT frame's version field leniently: a JSON
// number, a numeric string, or anything else all fall back to 0 rather
// than failing the handshake, matching the source's observed tolerance.
func ParseVersion(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// ToFileRow builds a storage row from a push frame's metadata fields.
func (f Frame) ToFileRow(vaultID string) types.File {
	return types.File{
		VaultID:   vaultID,
		Hash:      f.Hash,
		Path:      f.Path,
		Extension: f.Extension,
		Size:      f.Size,
		Created:   f.Ctime,
		Modified:  f.Mtime,
		Folder:    f.Folder,
		Deleted:   f.Deleted,
	}
}

// FileItem is the wire shape of one file row in a catch-up push, a
// history reply, or a trash listing.
type FileItem struct {
	UID       uint64 `json:"uid"`
	Path      string `json:"path"`
	Extension string `json:"extension,omitempty"`
	Hash      string `json:"hash"`
	Size      int64  `json:"size"`
	Ctime     int64  `json:"ctime"`
	Mtime     int64  `json:"mtime"`
	Folder    bool   `json:"folder"`
	Deleted   bool   `json:"deleted"`
	Device    string `json:"device,omitempty"`
}

// FileItemFromRow renders a storage row as wire JSON, stamping device as
// the server's own identity so clients can dedupe by (device, uid).
func FileItemFromRow(row types.File, device string) FileItem {
	return FileItem{
		UID:       row.UID,
		Path:      row.Path,
		Extension: row.Extension,
		Hash:      row.Hash,
		Size:      row.Size,
		Ctime:     row.Created,
		Mtime:     row.Modified,
		Folder:    row.Folder,
		Deleted:   row.Deleted,
		Device:    device,
	}
}

// ServerDevice is the device identity the server stamps on frames it
// originates (catch-up pushes, push broadcasts, restore broadcasts).
const ServerDevice = "server"

// Message is every server-to-client frame: simple acks (Res only),
// state-machine transitions (Op only), and file metadata (the rest).
// Zero-value fields are omitted, so one type covers every reply shape in
// spec.md §4.E without a reply-specific struct per op.
type Message struct {
	Op     Op     `json:"op,omitempty"`
	Res    string `json:"res,omitempty"`
	Detail string `json:"detail,omitempty"`

	// Version is a pointer so the ready frame's version key serializes even
	// when the vault is at version 0; every other reply leaves it nil and
	// omitted.
	Version *int64 `json:"version,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Limit   int64  `json:"limit,omitempty"`

	Hash   string `json:"hash,omitempty"`
	Pieces int    `json:"pieces,omitempty"`

	UID       uint64 `json:"uid,omitempty"`
	Path      string `json:"path,omitempty"`
	Extension string `json:"extension,omitempty"`
	Ctime     int64  `json:"ctime,omitempty"`
	Mtime     int64  `json:"mtime,omitempty"`
	Folder    bool   `json:"folder,omitempty"`
	Deleted   bool   `json:"deleted,omitempty"`
	Device    string `json:"device,omitempty"`

	Items []FileItem `json:"items,omitempty"`
	// More is a pointer so the history reply's documented `more:false` key
	// serializes even though false is its zero value, while every other op
	// that embeds Message (none of which has a "more" key) leaves it nil
	// and omitted.
	More *bool `json:"more,omitempty"`

	Error string `json:"error,omitempty"`
}

// Ok builds the INIT handshake's `{res:"ok"}` acknowledgement.
func Ok() Message { return Message{Res: "ok"} }

// OkOp builds the push op's `{op:"ok"}` completion reply.
func OkOp() Message { return Message{Op: OpOk} }

// Next builds the push op's per-piece `{res:"next"}` prompt.
func Next() Message { return Message{Res: "next"} }

// Ready builds the catch-up phase's `{op:"ready", version}` frame.
func Ready(version int64) Message { return Message{Op: OpReady, Version: &version} }

// Pong builds the ping op's `{op:"pong"}` reply.
func Pong() Message { return Message{Op: OpPong} }

// SizeReply builds the size op's `{res:"ok", size, limit}` reply.
func SizeReply(size, limit int64) Message {
	return Message{Res: "ok", Size: size, Limit: limit}
}

// PullReply builds the pull op's metadata reply preceding the binary
// payload frame (sent separately when size > 0).
func PullReply(hash string, size int64, pieces int) Message {
	return Message{Hash: hash, Size: size, Pieces: pieces}
}

// Push builds a push-op frame — used both for catch-up (CATCHING_UP
// phase) and for broadcasting a freshly written row to the hub.
func Push(item FileItem) Message {
	return Message{
		Op: OpPush, UID: item.UID, Path: item.Path, Extension: item.Extension,
		Hash: item.Hash, Ctime: item.Ctime, Mtime: item.Mtime, Folder: item.Folder,
		Deleted: item.Deleted, Size: item.Size, Device: item.Device,
	}
}

// HistoryReply builds the history op's `{items, more:false}` reply.
// Pagination is never implemented, so more is always false.
func HistoryReply(items []FileItem) Message {
	noMore := false
	return Message{Items: items, More: &noMore}
}

// DeletedReply builds the deleted op's trash listing reply.
func DeletedReply(items []FileItem) Message {
	return Message{Items: items}
}

// ErrorReply builds an out-of-band `{detail}` error frame.
func ErrorReply(detail string) Message {
	return Message{Detail: detail}
}

// ErrorFrame builds the session-level `{error}` frame sent when a frame
// fails during INIT (fatal, connection closes after) or during SERVING
// (recoverable, the connection stays open for the next frame).
func ErrorFrame(message string) Message {
	return Message{Error: message}
}
