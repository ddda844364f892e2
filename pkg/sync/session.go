// Package sync runs the per-connection vault sync session (spec.md §4.E):
// the INIT handshake, the CATCHING_UP replay, and the SERVING op dispatch
// loop, wired against pkg/storage for state, pkg/identity for the bearer
// token, and pkg/hub for cross-session fanout.
package sync

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vaultforge/syncd/pkg/config"
	"github.com/vaultforge/syncd/pkg/errs"
	"github.com/vaultforge/syncd/pkg/hub"
	"github.com/vaultforge/syncd/pkg/identity"
	"github.com/vaultforge/syncd/pkg/log"
	"github.com/vaultforge/syncd/pkg/metrics"
	"github.com/vaultforge/syncd/pkg/protocol"
	"github.com/vaultforge/syncd/pkg/storage"
	"github.com/vaultforge/syncd/pkg/types"
)

// Engine owns the dependencies shared by every session: the store, the
// token issuer, and the broadcast hub. One Engine serves every connection
// accepted by pkg/api.
type Engine struct {
	store storage.Store
	ids   *identity.Service
	hub   *hub.Hub
	cfg   config.Config
}

// NewEngine builds an Engine. store, ids, and h must already be wired.
func NewEngine(store storage.Store, ids *identity.Service, h *hub.Hub, cfg config.Config) *Engine {
	return &Engine{store: store, ids: ids, hub: h, cfg: cfg}
}

// session is the per-connection state machine. It is created fresh for
// every WebSocket connection and discarded when the connection closes.
type session struct {
	engine *Engine
	conn   *websocket.Conn
	log    zerolog.Logger

	state  types.SessionState
	vault  types.Vault
	email  string
	device string

	sub           *hub.Subscriber
	versionBumped bool

	writeMu sync.Mutex
}

// Serve runs one session to completion: the INIT handshake, then the
// SERVING dispatch loop until the client disconnects or an unrecoverable
// error occurs. It blocks until the connection closes.
func (e *Engine) Serve(conn *websocket.Conn) {
	conn.SetReadLimit(e.cfg.MaxFrameBytes)

	s := &session{
		engine: e,
		conn:   conn,
		state:  types.SessionAuthenticating,
		log:    log.Logger.With().Str("component", "session").Logger(),
	}
	s.refreshDeadline()

	if err := s.handleInit(); err != nil {
		s.log.Warn().Err(err).Msg("init handshake failed")
		s.send(protocol.ErrorFrame(clientMessage(err)))
		conn.Close()
		return
	}
	defer s.teardown()

	metrics.SessionsActive.Inc()
	defer metrics.SessionsActive.Dec()

	go s.outboundLoop()

	s.state = types.SessionServing
	for {
		s.refreshDeadline()
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.TextMessage {
			continue
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.send(protocol.ErrorFrame("malformed frame"))
			continue
		}

		if err := s.dispatch(frame); err != nil {
			s.log.Warn().Err(err).Str("op", string(frame.Op)).Msg("op failed")
			s.send(protocol.ErrorFrame(clientMessage(err)))
		}
	}
}

// clientMessage renders err for the wire: Internal errors are never echoed
// verbatim since they may wrap storage paths or driver errors.
func clientMessage(err error) string {
	if errs.KindOf(err) == errs.Internal {
		return "internal error"
	}
	return err.Error()
}

func (s *session) refreshDeadline() {
	if s.engine.cfg.IdleTimeout > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.engine.cfg.IdleTimeout))
	}
}

// handleInit runs the ten-step INIT handshake of spec.md §4.E: authenticate
// the token, load and authorize the vault, ack, catch up, ready, snapshot,
// forward-bump the version, and join the hub.
func (s *session) handleInit() error {
	mt, data, err := s.conn.ReadMessage()
	if err != nil {
		return errs.Wrap(err, "read init frame")
	}
	if mt != websocket.TextMessage {
		return errs.New(errs.InvalidInput, "first frame must be init")
	}

	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return errs.New(errs.InvalidInput, "malformed init frame")
	}

	email, err := s.engine.ids.TokenEmail(frame.Token)
	if err != nil {
		return err
	}
	s.email = email

	vault, err := s.engine.store.GetVault(frame.ID, frame.Keyhash)
	if err != nil {
		return err
	}

	allowed, err := s.engine.store.HasAccess(vault.ID, email)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.New(errs.Forbidden, "no access to vault %q", vault.ID)
	}

	s.vault = vault
	s.device = frame.Device
	s.log = s.log.With().Str("vault_id", vault.ID).Str("user_email", email).Logger()
	s.state = types.SessionCatchingUp

	if err := s.send(protocol.Ok()); err != nil {
		return err
	}

	clientVersion := protocol.ParseVersion(frame.Version)

	if vault.Version > clientVersion {
		files, err := s.engine.store.GetVaultFiles(vault.ID)
		if err != nil {
			return err
		}
		for _, row := range files {
			if err := s.send(protocol.Push(protocol.FileItemFromRow(row, protocol.ServerDevice))); err != nil {
				return err
			}
		}
	}

	if err := s.send(protocol.Ready(vault.Version)); err != nil {
		return err
	}
	s.state = types.SessionReady

	if s.engine.cfg.SnapshotOnConnect {
		if err := s.engine.store.Snapshot(vault.ID); err != nil {
			s.log.Warn().Err(err).Msg("snapshot on connect failed")
		}
	}

	if clientVersion > vault.Version {
		if err := s.engine.store.SetVaultVersion(vault.ID, clientVersion); err != nil {
			return err
		}
		s.vault.Version = clientVersion
	}

	s.sub = hub.NewSubscriber(uuid.NewString())
	s.engine.hub.Join(vault.ID, s.sub)

	return nil
}

func (s *session) teardown() {
	if s.sub != nil {
		s.engine.hub.Leave(s.vault.ID, s.sub)
		close(s.sub.Send)
	}
	s.conn.Close()
}

// outboundLoop drains this session's hub mailbox for as long as it stays
// open, writing every broadcast fanned in from other sessions on the same
// vault. It shares conn's write path with send via writeMu so the two
// goroutines never interleave a partial frame.
func (s *session) outboundLoop() {
	for msg := range s.sub.Send {
		s.writeMu.Lock()
		err := s.conn.WriteMessage(websocket.TextMessage, msg)
		s.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

func (s *session) send(msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errs.Wrap(err, "marshal frame")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *session) sendBinary(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// dispatch routes one SERVING-phase frame to its op handler. Unrecognized
// ops are ignored, matching the source's tolerance for forward-compatible
// clients sending ops this server doesn't yet know.
func (s *session) dispatch(frame protocol.Frame) error {
	switch frame.Op {
	case protocol.OpSize:
		return s.handleSize()
	case protocol.OpPull:
		return s.handlePull(frame)
	case protocol.OpPush:
		return s.handlePush(frame)
	case protocol.OpHistory:
		return s.handleHistory(frame)
	case protocol.OpPing:
		return s.send(protocol.Pong())
	case protocol.OpDeleted:
		return s.handleDeleted()
	case protocol.OpRestore:
		return s.handleRestore(frame)
	default:
		return nil
	}
}

func (s *session) handleSize() error {
	size, err := s.engine.store.GetVaultSize(s.vault.ID)
	if err != nil {
		return err
	}
	return s.send(protocol.SizeReply(size, s.vault.SizeQuota))
}

func (s *session) handlePull(frame protocol.Frame) error {
	if frame.UID == nil {
		return errs.New(errs.InvalidInput, "pull requires uid")
	}

	row, err := s.engine.store.GetFile(s.vault.ID, *frame.UID)
	if err != nil {
		return err
	}

	pieces := 0
	if row.Size > 0 {
		pieces = 1
	}
	if err := s.send(protocol.PullReply(row.Hash, row.Size, pieces)); err != nil {
		return err
	}
	if pieces == 0 {
		return nil
	}

	metrics.PullsTotal.Inc()
	return s.sendBinary(row.Data)
}

// handlePush implements spec.md §4.E's push op: metadata first (delete or
// insert_metadata), then the binary piece loop keyed on frame.Pieces
// regardless of which branch ran, then broadcast and a single version
// bump for the whole session.
func (s *session) handlePush(frame protocol.Frame) error {
	var uid uint64

	if frame.Deleted {
		if frame.UID == nil {
			return errs.New(errs.InvalidInput, "deleted push requires uid")
		}
		if err := s.engine.store.DeleteVaultFile(s.vault.ID, frame.Path); err != nil {
			return err
		}
		uid = *frame.UID
	} else {
		size, err := s.engine.store.GetVaultSize(s.vault.ID)
		if err != nil {
			return err
		}
		if size+frame.Size > s.vault.SizeQuota {
			return errs.New(errs.QuotaExceeded, "vault %q is over its storage quota", s.vault.ID)
		}

		newUID, err := s.engine.store.InsertMetadata(frame.ToFileRow(s.vault.ID))
		if err != nil {
			return err
		}
		uid = newUID
	}

	if frame.Pieces > 0 {
		data := make([]byte, 0, frame.Size)
		for i := 0; i < frame.Pieces; i++ {
			if err := s.send(protocol.Next()); err != nil {
				return err
			}
			mt, piece, err := s.conn.ReadMessage()
			if err != nil {
				return errs.Wrap(err, "read push piece")
			}
			if mt != websocket.BinaryMessage {
				return errs.New(errs.InvalidInput, "expected binary push piece")
			}
			data = append(data, piece...)
		}
		if err := s.engine.store.InsertData(uid, data); err != nil {
			return err
		}
	}

	row := frame.ToFileRow(s.vault.ID)
	row.UID = uid
	payload, err := json.Marshal(protocol.Push(protocol.FileItemFromRow(row, s.device)))
	if err != nil {
		return errs.Wrap(err, "marshal broadcast")
	}
	delivered := s.engine.hub.Broadcast(s.vault.ID, payload)
	metrics.BroadcastFanout.Observe(float64(delivered))
	metrics.PushesTotal.Inc()

	if !s.versionBumped {
		newVersion := s.vault.Version + 1
		if err := s.engine.store.SetVaultVersion(s.vault.ID, newVersion); err != nil {
			return err
		}
		s.vault.Version = newVersion
		s.versionBumped = true
	}

	return s.send(protocol.OkOp())
}

func (s *session) handleHistory(frame protocol.Frame) error {
	rows, err := s.engine.store.GetFileHistory(s.vault.ID, frame.Path)
	if err != nil {
		return err
	}
	return s.send(protocol.HistoryReply(itemsFromRows(rows)))
}

func (s *session) handleDeleted() error {
	rows, err := s.engine.store.GetDeletedFiles(s.vault.ID)
	if err != nil {
		return err
	}
	return s.send(protocol.DeletedReply(itemsFromRows(rows)))
}

func (s *session) handleRestore(frame protocol.Frame) error {
	if frame.UID == nil {
		return errs.New(errs.InvalidInput, "restore requires uid")
	}

	row, err := s.engine.store.RestoreFile(s.vault.ID, *frame.UID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(protocol.Push(protocol.FileItemFromRow(row, s.device)))
	if err != nil {
		return errs.Wrap(err, "marshal broadcast")
	}
	s.engine.hub.Broadcast(s.vault.ID, payload)

	return s.send(protocol.Ok())
}

func itemsFromRows(rows []types.File) []protocol.FileItem {
	items := make([]protocol.FileItem, len(rows))
	for i, row := range rows {
		items[i] = protocol.FileItemFromRow(row, protocol.ServerDevice)
	}
	return items
}
