package web

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	apperrors "github.com/louisbranch/hederapoly/internal/platform/errors"
	"github.com/louisbranch/hederapoly/internal/platform/timeouts"
	"github.com/louisbranch/hederapoly/internal/services/game/activity"
	"github.com/louisbranch/hederapoly/internal/services/game/chain"
	"github.com/louisbranch/hederapoly/internal/services/game/domain"
	"github.com/louisbranch/hederapoly/internal/services/game/reconcile"
	"github.com/louisbranch/hederapoly/internal/services/game/storage"
)

// DefaultActivityLimit caps /api/activity responses when no limit is given.
const DefaultActivityLimit = 50

// Config defines the inputs for the web server.
type Config struct {
	HTTPAddr      string
	ActivityLimit int
	// Contract keys the tile cache fallback.
	Contract string
	// Account is used for cache reads while the engine is not attached.
	Account domain.AccountID
	// TxURL links a transaction hash to a block explorer.
	TxURL func(hash string) string
}

// Engine is the read and refresh surface of the reconciliation engine.
type Engine interface {
	CurrentSnapshot() (domain.Snapshot, bool)
	Board() (domain.Board, bool)
	Status() reconcile.Status
	ForceRefresh()
}

// Journal is the activity log the server reads and appends command outcomes to.
type Journal interface {
	Entries(account domain.AccountID) []activity.Entry
	RecordCommand(ctx context.Context, account domain.AccountID, command domain.Command, block uint64, err error) activity.Entry
}

// Commander submits play commands.
type Commander interface {
	Execute(ctx context.Context, command domain.Command) (chain.Receipt, error)
}

// AccountSetter changes the watched account.
type AccountSetter interface {
	SetAccount(account domain.AccountID) error
}

// Dependencies are the collaborators behind the HTTP handlers. Engine and
// Journal are required; the rest switch features off when nil.
type Dependencies struct {
	Engine    Engine
	Journal   Journal
	Commands  Commander
	Accounts  AccountSetter
	Snapshots storage.SnapshotStore
	Tiles     storage.TileStore
	Logf      func(string, ...any)
}

// Server hosts the game HTTP API and websocket stream.
type Server struct {
	httpAddr   string
	httpServer *http.Server
	handler    *handler
}

// NewServer builds the server and its routes.
func NewServer(config Config, deps Dependencies) (*Server, error) {
	h, err := newHandler(config, deps)
	if err != nil {
		return nil, err
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	return &Server{
		httpAddr: httpAddr,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           h.routes(),
			ReadHeaderTimeout: timeouts.ReadHeader,
		},
		handler: h,
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// PublishSnapshot pushes a changed snapshot to every stream subscriber.
func (s *Server) PublishSnapshot(snapshot domain.Snapshot) {
	if s == nil {
		return
	}
	s.handler.hub.Broadcast(messageSnapshot, newSnapshotResponse(snapshot))
}

// PublishEntry pushes a new activity entry to every stream subscriber.
func (s *Server) PublishEntry(entry activity.Entry) {
	if s == nil {
		return
	}
	s.handler.hub.Broadcast(messageActivity, newEntryResponse(entry))
}

// Subscribers reports the number of open websocket streams.
func (s *Server) Subscribers() int {
	if s == nil {
		return 0
	}
	return s.handler.hub.Count()
}

// ListenAndServe serves HTTP until the context ends, then closes every
// open stream.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("web server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if s.httpAddr == "" {
		return apperrors.New(apperrors.CodeInvalidConfig, "http address is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("web listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.handler.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		s.handler.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
