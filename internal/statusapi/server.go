// Package statusapi serves a read-only HTTP view of the relay: health, the
// live game, stored snapshots and finished-game PGN.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/gamestore"
	"github.com/park285/cheese-relay/internal/history"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/pkg/chessdto"
)

// Source provides the game in progress; *relay.Server implements it.
type Source interface {
	Current() *chessdto.GameSnapshot
}

const (
	defaultRecentLimit = 20
	maxRecentLimit     = 100
	lookupTimeout      = 3 * time.Second
)

type Server struct {
	src     Source
	store   gamestore.Store
	history history.Repository
	logger  *zap.Logger
	http    *fasthttp.Server
}

func New(src Source, store gamestore.Store, hist history.Repository, logger *zap.Logger) *Server {
	s := &Server{src: src, store: store, history: hist, logger: obslog.Or(logger)}
	s.http = &fasthttp.Server{
		Handler:      s.Handler,
		Name:         "cheese-relay",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Serve blocks until ln is closed or ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = s.http.Shutdown() })
	defer stop()
	s.logger.Info("status_listen", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		writeError(ctx, fasthttp.StatusMethodNotAllowed, "method_not_allowed", "only GET is served")
		return
	}
	path := strings.TrimRight(string(ctx.Path()), "/")
	switch {
	case path == "/healthz":
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetBodyString("ok")
	case path == "/games/current":
		s.current(ctx)
	case path == "/games":
		s.recent(ctx)
	case strings.HasPrefix(path, "/games/"):
		id, rest, _ := strings.Cut(strings.TrimPrefix(path, "/games/"), "/")
		switch rest {
		case "":
			s.game(ctx, id)
		case "pgn":
			s.pgn(ctx, id)
		default:
			writeError(ctx, fasthttp.StatusNotFound, "not_found", "")
		}
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not_found", "")
	}
}

func (s *Server) current(ctx *fasthttp.RequestCtx) {
	snap := s.src.Current()
	if snap == nil {
		writeError(ctx, fasthttp.StatusNotFound, "no_game", "no game has started")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, snap)
}

func (s *Server) game(ctx *fasthttp.RequestCtx, id string) {
	lctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	snap, err := s.store.Load(lctx, id)
	switch {
	case errors.Is(err, gamestore.ErrNotFound):
		writeError(ctx, fasthttp.StatusNotFound, "game_not_found", "")
	case err != nil:
		s.logger.Warn("status_load_failed", zap.String("game_id", id), zap.Error(err))
		writeError(ctx, fasthttp.StatusServiceUnavailable, "store_unavailable", "", true)
	default:
		writeJSON(ctx, fasthttp.StatusOK, snap)
	}
}

func (s *Server) recent(ctx *fasthttp.RequestCtx) {
	limit := defaultRecentLimit
	if raw := ctx.QueryArgs().Peek("limit"); len(raw) > 0 {
		n, err := strconv.Atoi(string(raw))
		if err != nil || n <= 0 {
			writeError(ctx, fasthttp.StatusBadRequest, "bad_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxRecentLimit)
	}
	lctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	list, err := s.store.Recent(lctx, limit)
	if err != nil {
		s.logger.Warn("status_recent_failed", zap.Error(err))
		writeError(ctx, fasthttp.StatusServiceUnavailable, "store_unavailable", "", true)
		return
	}
	if list == nil {
		list = []*chessdto.GameSnapshot{}
	}
	writeJSON(ctx, fasthttp.StatusOK, list)
}

func (s *Server) pgn(ctx *fasthttp.RequestCtx, id string) {
	lctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	res, err := s.history.Get(lctx, id)
	if err != nil {
		s.logger.Warn("status_history_failed", zap.String("game_id", id), zap.Error(err))
		writeError(ctx, fasthttp.StatusServiceUnavailable, "history_unavailable", "", true)
		return
	}
	if res == nil {
		writeError(ctx, fasthttp.StatusNotFound, "game_not_found", "")
		return
	}
	ctx.SetContentType("application/x-chess-pgn")
	ctx.SetBodyString(res.PGN)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(ctx, fasthttp.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

func writeError(ctx *fasthttp.RequestCtx, status int, code, msg string, retryable ...bool) {
	e := chessdto.DomainError{Code: code, Message: msg, Retryable: len(retryable) > 0 && retryable[0]}
	body, _ := json.Marshal(e)
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
