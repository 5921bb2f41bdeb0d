package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/lithammer/dedent"
	"github.com/raine/wallet-session/internal/agent"
	"github.com/raine/wallet-session/internal/auth"
	"github.com/raine/wallet-session/internal/config"
	"github.com/raine/wallet-session/internal/otp"
	"github.com/raine/wallet-session/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	logFileName = "walletd.log"

	pruneInterval  = 24 * time.Hour
	eventRetention = 30 * 24 * time.Hour
)

var usage = strings.TrimSpace(dedent.Dedent(`
	Usage: walletd [command]

	Commands:
	  serve                      Run the session agent (default)
	  status                     Print the current session state
	  login <access> <refresh>   Store tokens obtained from a login flow
	  logout                     Clear the stored session

	Configuration is read from the environment and from %s.
`))

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "serve", "status", "login", "logout":
	case "help", "-h", "--help":
		fmt.Printf(usage+"\n", config.Path(config.EnvFileName))
		return
	default:
		fmt.Fprintf(os.Stderr, usage+"\n", config.Path(config.EnvFileName))
		os.Exit(2)
	}

	if err := run(cmd, os.Args[2:]); err != nil {
		log.Fatal().Err(err).Str("command", cmd).Msg("walletd failed")
	}
}

func run(cmd string, args []string) error {
	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	closeLog, err := setupLogging(cfg.LogLevel, cmd == "serve")
	if err != nil {
		return err
	}
	defer closeLog()

	if err := initSentry(cfg); err != nil {
		log.Warn().Err(err).Msg("failed to initialize sentry")
	}
	defer sentry.Flush(2 * time.Second)

	encryptionKey, err := storage.DeriveKey(cfg.TokenKey)
	if err != nil {
		return fmt.Errorf("failed to derive encryption key: %w", err)
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath, encryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()
	log.Debug().Str("dbPath", cfg.DBPath).Msg("store initialized")

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	deviceID, err := store.DeviceID(ctx)
	if err != nil {
		return err
	}

	refresher := auth.NewHTTPRefresher(auth.HTTPRefresherOpts{
		BaseURL:  cfg.APIBaseURL,
		DeviceID: deviceID,
		Timeout:  cfg.RefreshTimeout,
	})
	guard := auth.NewGuard(store, refresher,
		auth.WithRefreshAhead(cfg.RefreshAhead),
		auth.WithRefreshTimeout(cfg.RefreshTimeout),
	)
	guard.AddListener(recordEvents(store))

	switch cmd {
	case "status":
		return printStatus(ctx, guard)
	case "login":
		if len(args) != 2 {
			return fmt.Errorf("login needs an access token and a refresh token")
		}
		return guard.LoginWithTokens(ctx, auth.TokenSet{
			AccessToken:  args[0],
			RefreshToken: args[1],
			DeviceID:     deviceID,
		})
	case "logout":
		guard.Logout(ctx)
		return nil
	default:
		return serve(ctx, cfg, store, guard)
	}
}

func serve(ctx context.Context, cfg *config.Config, store *storage.SQLiteStore, guard *auth.Guard) error {
	registry := otp.NewRegistry()
	backend := otp.NewThrottle(
		otp.NewHTTPService(otp.HTTPServiceOpts{
			BaseURL: cfg.APIBaseURL,
			Tokens:  guard,
			Timeout: cfg.RefreshTimeout,
		}),
		cfg.ResendInterval,
		cfg.ResendBurst,
	)
	services := make(map[otp.Type]otp.Service)
	for _, t := range otp.Types() {
		services[t] = backend
	}
	if err := registry.RegisterAll(services); err != nil {
		return err
	}

	monitor := auth.NewMonitor(guard)
	monitor.AutoRefresh = true
	lastState := auth.State(-1)
	monitor.OnStatus = func(st auth.Status) {
		if st.State != lastState {
			log.Info().Stringer("state", st.State).Msg("session state changed")
			lastState = st.State
		}
	}

	server := agent.NewServer(guard, registry, store)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		monitor.Run(ctx, cfg.RecheckInterval)
		return nil
	})
	g.Go(func() error {
		return server.Run(ctx, cfg.ListenAddr)
	})
	g.Go(func() error {
		runPruner(ctx, store)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("shutdown complete")
	return nil
}

// runPruner removes old auth events on startup and then once per
// pruneInterval until ctx is done.
func runPruner(ctx context.Context, store *storage.SQLiteStore) {
	prune := func() {
		n, err := store.PruneAuthEvents(ctx, eventRetention)
		if err != nil {
			log.Warn().Err(err).Msg("failed to prune auth events")
			return
		}
		if n > 0 {
			log.Info().Int64("count", n).Msg("pruned old auth events")
		}
	}

	prune()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// recordEvents logs guard events, keeps them in the store's history and
// reports unexpected refresh failures to Sentry.
func recordEvents(store *storage.SQLiteStore) auth.Listener {
	return func(ev auth.Event) {
		var message string
		if ev.Err != nil {
			message = ev.Err.Error()
			log.Warn().Err(ev.Err).Str("event", string(ev.Type)).Msg("auth event")
		} else {
			log.Info().Str("event", string(ev.Type)).Msg("auth event")
		}

		// A rejected refresh token is an ordinary session end.
		if ev.Type == auth.EventRefreshFailed && ev.Err != nil && !errors.Is(ev.Err, auth.ErrRefreshRejected) {
			sentry.CaptureException(ev.Err)
		}

		if _, err := store.AppendAuthEvent(context.Background(), string(ev.Type), message, ev.At); err != nil {
			log.Warn().Err(err).Msg("failed to record auth event")
		}
	}
}

func printStatus(ctx context.Context, guard *auth.Guard) error {
	st := guard.CheckAuth(ctx)
	out := map[string]any{
		"state":            st.State,
		"is_authenticated": st.IsAuthenticated,
		"needs_refresh":    st.NeedsRefresh,
	}
	if st.TimeUntilExpiry != nil {
		out["expires_at"] = st.ExpiresAt.Format(time.RFC3339)
		out["expires_in"] = st.TimeUntilExpiry.Round(time.Second).String()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func initSentry(cfg *config.Config) error {
	if cfg.SentryDSN == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		AttachStacktrace: true,
	})
}

// setupLogging sets the level and, for long-running commands outside
// systemd, mirrors the console log to a file.
func setupLogging(level string, toFile bool) (func(), error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid WALLET_LOG_LEVEL %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	// JOURNAL_STREAM is set by systemd when running as a service.
	if _, underSystemd := os.LookupEnv("JOURNAL_STREAM"); underSystemd || !toFile {
		return func() {}, nil
	}

	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr}
	fileWriter := zerolog.ConsoleWriter{Out: logFile, NoColor: true}
	log.Logger = log.Output(io.MultiWriter(consoleWriter, fileWriter))
	log.Info().Str("logFile", logFileName).Msg("logging to file")

	return func() { logFile.Close() }, nil
}
