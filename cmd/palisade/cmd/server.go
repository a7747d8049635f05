package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/palisade/api"
	"github.com/jmcleod/palisade/authz"
	"github.com/jmcleod/palisade/ca"
	"github.com/jmcleod/palisade/config"
	"github.com/jmcleod/palisade/crl"
	"github.com/jmcleod/palisade/storage"
	bboltstorage "github.com/jmcleod/palisade/storage/bbolt"
	"github.com/jmcleod/palisade/storage/memory"
	"github.com/jmcleod/palisade/storage/postgres"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the certificate authority server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

		repo, closeRepo, err := openRepository(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		engine := authz.NewEngine(repo,
			authz.WithSuperAdmins(cfg.Bootstrap.SuperAdmins...),
			authz.WithLogger(logger))
		if err := engine.Load(cmd.Context()); err != nil {
			return fmt.Errorf("loading admin groups: %w", err)
		}

		crlManager := crl.NewManager(repo,
			crl.WithAuthorizer(engine),
			crl.WithManagerLogger(logger))
		if err := crlManager.Load(cmd.Context()); err != nil {
			return fmt.Errorf("loading partition configurations: %w", err)
		}

		profiles := make([]ca.Profile, 0, len(cfg.Profiles))
		for _, p := range cfg.Profiles {
			profile, err := p.Profile()
			if err != nil {
				return err
			}
			profiles = append(profiles, profile)
		}
		authorityOpts := []ca.Option{
			ca.WithAuthorizer(engine),
			ca.WithLogger(logger),
			ca.WithProfiles(profiles...),
		}
		if cfg.KeyStore.Backend == config.KeyStorePKCS11 {
			ks, err := ca.NewPKCS11KeyStore(ca.PKCS11Config{
				ModulePath: cfg.KeyStore.Module,
				TokenLabel: cfg.KeyStore.TokenLabel,
				PIN:        cfg.KeyStore.PIN,
			})
			if err != nil {
				return fmt.Errorf("opening PKCS#11 keystore: %w", err)
			}
			defer ks.Close()
			authorityOpts = append(authorityOpts, ca.WithKeyStore(ks))
		}
		authority := ca.NewAuthority(repo, crlManager, authorityOpts...)
		if err := authority.Load(cmd.Context()); err != nil {
			return fmt.Errorf("loading certificate authorities: %w", err)
		}

		a := api.New(repo, engine, authority, crlManager, api.WithLogger(logger))

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/api/v1", a.Router())

		var tlsConfig *tls.Config
		if cfg.TLSCert != "" && cfg.TLSKey != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Periodic CRL issuance runs until shutdown.
		issueCtx, stopIssuance := context.WithCancel(cmd.Context())
		defer stopIssuance()
		service := ca.NewService(authority, crlManager, logger)
		go service.Run(issueCtx)

		done := make(chan error, 1)
		go func() {
			var err error
			if tlsConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (storage: %s)...\n", cfg.Port, cfg.Storage.Backend)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			stopIssuance()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// openRepository builds the configured storage backend. The returned close
// function is a no-op for backends without one.
func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, func(), error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return memory.NewRepository(), func() {}, nil
	case config.BackendBBolt:
		path := cfg.Storage.Path
		if path == "" {
			if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
				return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
			}
			path = cfg.DataDir + "/palisade.db"
		}
		repo, err := bboltstorage.NewRepositoryFromFile(path, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	case config.BackendPostgres:
		repo, err := postgres.NewRepositoryFromDSN(ctx, cfg.Storage.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return repo, func() { repo.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
