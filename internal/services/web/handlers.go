package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/storage"
)

const maxRequestBody = 4 << 10

type handler struct {
	config   Config
	deps     Dependencies
	hub      *Hub
	upgrader websocket.Upgrader
	logf     func(string, ...any)
}

func newHandler(config Config, deps Dependencies) (*handler, error) {
	if deps.Engine == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "engine is required")
	}
	if deps.Journal == nil {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "journal is required")
	}
	if config.ActivityLimit < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidConfig, "activity limit must not be negative")
	}
	if config.ActivityLimit == 0 {
		config.ActivityLimit = DefaultActivityLimit
	}
	logf := deps.Logf
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &handler{
		config: config,
		deps:   deps,
		hub:    newHub(logf),
		logf:   logf,
	}, nil
}

func (h *handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/snapshot", h.handleSnapshot)
	mux.HandleFunc("GET /api/activity", h.handleActivity)
	mux.HandleFunc("GET /api/tiles", h.handleBoard)
	mux.HandleFunc("GET /api/tiles/{index}", h.handleTile)
	mux.HandleFunc("POST /api/commands/{command}", h.handleCommand)
	mux.HandleFunc("PUT /api/account", h.handleAccount)
	mux.HandleFunc("GET /ws", h.handleStream)
	return mux
}

// account is the attached account, or the configured one while detached.
func (h *handler) account() domain.AccountID {
	if account := h.deps.Engine.Status().Account; !account.IsZero() {
		return account
	}
	return h.config.Account
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatusResponse(h.deps.Engine.Status()))
}

func (h *handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	state := h.deps.Engine.Status().State.String()
	if snapshot, ok := h.deps.Engine.CurrentSnapshot(); ok {
		writeJSON(w, http.StatusOK, snapshotEnvelope{State: state, Snapshot: newSnapshotResponse(snapshot)})
		return
	}

	account := h.account()
	if h.deps.Snapshots != nil && !account.IsZero() {
		snapshot, err := h.deps.Snapshots.GetSnapshot(r.Context(), account)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, snapshotEnvelope{State: state, Cached: true, Snapshot: newSnapshotResponse(snapshot)})
			return
		case !errors.Is(err, storage.ErrNotFound):
			h.logf("read cached snapshot: %v", err)
		}
	}
	writeError(w, apperrors.New(apperrors.CodeNotAttached, "no snapshot available"))
}

func (h *handler) handleActivity(w http.ResponseWriter, r *http.Request) {
	limit := h.config.ActivityLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "limit must be a positive integer"))
			return
		}
		limit = min(parsed, h.config.ActivityLimit)
	}
	writeJSON(w, http.StatusOK, h.recentEntries(limit))
}

func (h *handler) recentEntries(limit int) []entryResponse {
	entries := h.deps.Journal.Entries(h.account())
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	resp := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, newEntryResponse(entry))
	}
	return resp
}

func (h *handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	tiles, err := h.tiles(r)
	if err != nil {
		writeError(w, err)
		return
	}
	resp := make([]tileResponse, 0, len(tiles))
	for _, tile := range tiles {
		resp = append(resp, newTileResponse(tile))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleTile(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeError(w, apperrors.New(apperrors.CodeInvalidArgument, "tile index must be a non-negative integer"))
		return
	}
	tiles, err := h.tiles(r)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, tile := range tiles {
		if tile.Index == index {
			writeJSON(w, http.StatusOK, newTileResponse(tile))
			return
		}
	}
	writeError(w, apperrors.WithMetadata(apperrors.CodeNotFound, "tile not found", map[string]string{
		"index": strconv.Itoa(index),
	}))
}

// tiles serves the session board, falling back to the contract's cached tiles.
func (h *handler) tiles(r *http.Request) ([]domain.TileInfo, error) {
	if board, ok := h.deps.Engine.Board(); ok {
		return board.Tiles(), nil
	}
	if h.deps.Tiles == nil || strings.TrimSpace(h.config.Contract) == "" {
		return nil, apperrors.New(apperrors.CodeNotAttached, "board not loaded")
	}
	tiles, err := h.deps.Tiles.GetTiles(r.Context(), h.config.Contract)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperrors.New(apperrors.CodeNotAttached, "board not loaded")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "read cached tiles", err)
	}
	return tiles, nil
}

func (h *handler) handleCommand(w http.ResponseWriter, r *http.Request) {
	if h.deps.Commands == nil {
		writeError(w, apperrors.New(apperrors.CodeUnsupported, "commands need a signing key"))
		return
	}
	command, err := domain.ParseCommand(r.PathValue("command"))
	if err != nil {
		writeError(w, err)
		return
	}
	account := h.deps.Engine.Status().Account
	if account.IsZero() {
		writeError(w, apperrors.New(apperrors.CodeNotAttached, "no account attached"))
		return
	}

	receipt, err := h.deps.Commands.Execute(r.Context(), command)
	h.deps.Journal.RecordCommand(r.Context(), account, command, receipt.BlockNumber, err)
	if err != nil {
		writeError(w, err)
		return
	}
	h.deps.Engine.ForceRefresh()

	resp := commandResponse{
		Command:     string(command),
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
	}
	if h.config.TxURL != nil {
		resp.ExplorerURL = h.config.TxURL(resp.TxHash)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleAccount(w http.ResponseWriter, r *http.Request) {
	if h.deps.Accounts == nil {
		writeError(w, apperrors.New(apperrors.CodeUnsupported, "account is fixed by the signing key"))
		return
	}
	var req accountRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeInvalidArgument, "decode account request", err))
		return
	}
	account, err := domain.ParseAccountID(req.Account)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.deps.Accounts.SetAccount(account); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, accountRequest{Account: account.String()})
}

// handleStream upgrades to a websocket, sends the current snapshot and
// recent activity, then relays broadcasts until the client goes away.
func (h *handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("upgrade stream: %v", err)
		return
	}
	sub, err := h.hub.add(conn, h.initialFrames)
	if err != nil {
		if !errors.Is(err, errHubClosed) {
			h.logf("send initial stream frames: %v", err)
		}
		_ = conn.Close()
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.remove(sub)
}

// initialFrames encodes the current snapshot and recent activity. It runs
// under the hub lock, so no broadcast can be queued ahead of it.
func (h *handler) initialFrames() ([][]byte, error) {
	var frames [][]byte
	if snapshot, ok := h.deps.Engine.CurrentSnapshot(); ok {
		data, err := encodeEnvelope(messageSnapshot, newSnapshotResponse(snapshot))
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	for _, entry := range h.recentEntries(h.config.ActivityLimit) {
		data, err := encodeEnvelope(messageActivity, entry)
		if err != nil {
			return nil, err
		}
		frames = append(frames, data)
	}
	return frames, nil
}
