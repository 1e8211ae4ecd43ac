package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/park285/cheese-relay/internal/config"
	"github.com/park285/cheese-relay/internal/console"
	"github.com/park285/cheese-relay/internal/gamestore"
	"github.com/park285/cheese-relay/internal/history"
	"github.com/park285/cheese-relay/internal/msgcat"
	"github.com/park285/cheese-relay/internal/obslog"
	"github.com/park285/cheese-relay/internal/peer"
	"github.com/park285/cheese-relay/internal/relay"
	"github.com/park285/cheese-relay/internal/statusapi"
	"github.com/park285/cheese-relay/internal/transport"
)

const usage = `usage: cheese-relay <role> [args]

roles:
  server              pair two peers and relay their moves
  client              join a game at RELAY_ADDR
  status [id [pgn]]   query the status API at STATUS_ADDR (current game by default)
`

const (
	exitOK    = 0
	exitIO    = 1
	exitUsage = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	role := strings.ToLower(args[0])
	switch role {
	case "server", "client", "status":
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return exitOK
	default:
		fmt.Fprintf(stderr, "unknown role %q\n\n%s", args[0], usage)
		return exitUsage
	}

	if err := obslog.InitFromEnv(role); err != nil {
		fmt.Fprintf(stderr, "logger init error: %v\n", err)
		return exitIO
	}
	defer obslog.Sync()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "config error: %v\n", err)
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch role {
	case "server":
		err = runServer(ctx, cfg)
	case "client":
		err = runClient(ctx, cfg, stdin, stdout)
	case "status":
		err = runStatus(ctx, cfg, args[1:], stdout)
	}
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return exitOK
		}
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintf(stderr, "%v\n\n%s", err, usage)
			return exitUsage
		}
		obslog.L().Error("exit", zap.String("role", role), zap.Error(err))
		fmt.Fprintf(stderr, "%s: %v\n", role, err)
		return exitIO
	}
	return exitOK
}

type usageError string

func (e usageError) Error() string { return string(e) }

func runServer(ctx context.Context, cfg *config.AppConfig) error {
	logger := obslog.L()

	store, err := gamestore.Open(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("snapshot store: %w", err)
	}
	defer store.Close()
	hist, err := history.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer hist.Close()

	ln, err := transport.Listen(cfg.Transport, cfg.RelayAddr)
	if err != nil {
		return fmt.Errorf("relay listen: %w", err)
	}

	base, inc := cfg.Clock()
	srv := relay.New(relay.Options{
		Logger:           logger,
		StartFEN:         cfg.StartFEN,
		Time:             base,
		Inc:              inc,
		TurnTimeout:      cfg.TurnTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		ServeForever:     cfg.ServeForever,
		Store:            store,
		History:          hist,
	})

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	statusDone := make(chan struct{})
	if cfg.StatusAddr != "" {
		sln, err := net.Listen("tcp", cfg.StatusAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("status listen: %w", err)
		}
		api := statusapi.New(srv, store, hist, logger)
		go func() {
			defer close(statusDone)
			if err := api.Serve(sctx, sln); err != nil {
				logger.Warn("status_serve_failed", zap.Error(err))
			}
		}()
	} else {
		close(statusDone)
	}

	err = srv.Serve(ctx, ln)
	cancel()
	<-statusDone
	return err
}

func runClient(ctx context.Context, cfg *config.AppConfig, stdin io.Reader, stdout io.Writer) error {
	cat, err := msgcat.New(cfg.MsgOverrideDir)
	if err != nil {
		return fmt.Errorf("message catalog: %w", err)
	}
	interactive := false
	if f, ok := stdin.(*os.File); ok {
		interactive = console.IsTerminal(f)
	}
	r := console.New(stdout, cat, interactive)

	r.Say("client.connecting", map[string]any{"Addr": cfg.RelayAddr, "Transport": cfg.Transport})
	base, inc := cfg.Clock()
	c, err := peer.Dial(ctx, peer.Config{
		Addr:             cfg.RelayAddr,
		Transport:        cfg.Transport,
		Name:             cfg.PlayerName,
		FEN:              cfg.StartFEN,
		Time:             base,
		Inc:              inc,
		HandshakeTimeout: -1,
		Logger:           obslog.L(),
		Connected:        func() { r.Say("client.waiting", nil) },
	})
	if err != nil {
		return err
	}
	defer c.Close()

	r.Say("client.started", map[string]any{"Color": console.ColorName(c.Color()), "Opponent": c.Opponent()})
	if st := c.Start(); st.Time != nil {
		var stInc time.Duration
		if st.Inc != nil {
			stInc = *st.Inc
		}
		r.Say("client.timed", map[string]any{"Control": config.FormatTimeControl(*st.Time, stInc)})
	} else {
		r.Say("client.untimed", nil)
	}

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()
	_, err = console.Play(pctx, c, r, console.ReadLines(pctx, stdin), obslog.L())
	return err
}

func runStatus(ctx context.Context, cfg *config.AppConfig, args []string, stdout io.Writer) error {
	if cfg.StatusAddr == "" {
		return usageError("STATUS_ADDR is not set")
	}
	c := statusapi.NewClient(cfg.StatusAddr)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var (
		out any
		err error
	)
	switch {
	case len(args) == 0:
		out, err = c.Current(ctx)
	case args[0] == "recent":
		out, err = c.Recent(ctx, 0)
	case len(args) == 2 && args[1] == "pgn":
		var pgn string
		if pgn, err = c.PGN(ctx, args[0]); err == nil {
			_, err = fmt.Fprintln(stdout, pgn)
		}
		return err
	case len(args) == 1:
		out, err = c.Game(ctx, args[0])
	default:
		return usageError("status takes at most a game id and \"pgn\"")
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
