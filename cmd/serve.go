package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/evalkit-dev/evalkit-engine/pkg/auth"
	"github.com/evalkit-dev/evalkit-engine/pkg/config"
	"github.com/evalkit-dev/evalkit-engine/pkg/database"
	"github.com/evalkit-dev/evalkit-engine/pkg/handlers"
	"github.com/evalkit-dev/evalkit-engine/pkg/middleware"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second
)

type serveOptions struct {
	skipMigrations bool
	withWorker     bool
	noSweeper      bool
}

func serveCommand(a *app) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: "Serve the project, dataset and upload API. With the local queue driver imports " +
			"run in this process; with sqs or redis they run in worker processes unless --with-worker is set.",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer a.close()
			return a.serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.skipMigrations, "skip-migrations", false, "Do not apply schema migrations on startup")
	cmd.Flags().BoolVar(&opts.withWorker, "with-worker", false, "Also consume import jobs from the sqs or redis queue")
	cmd.Flags().BoolVar(&opts.noSweeper, "no-sweeper", false, "Do not run the reconciliation sweeper in this process")

	return cmd
}

func (a *app) serve(parent context.Context, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := a.connectDatabase(ctx)
	if err != nil {
		return err
	}
	if !opts.skipMigrations {
		if err := a.migrate(ctx); err != nil {
			return err
		}
	}

	blobs, err := a.blobStore(ctx)
	if err != nil {
		return err
	}

	r := newRepos()
	importer := a.newImporter(r, blobs)

	dispatcher, consumer, err := a.queue(ctx, importer)
	if err != nil {
		return err
	}
	runConsumer := a.cfg.Queue.Driver == config.QueueDriverLocal || opts.withWorker
	if runConsumer {
		consumer.Start()
		defer a.shutdownConsumer(consumer)
	}

	if !opts.noSweeper && a.cfg.Importer.SweepInterval > 0 {
		stopSweeper := startSweeper(ctx, a.newSweeper(r, dispatcher), a.cfg.Importer.SweepInterval)
		defer stopSweeper()
	}

	jwksClient, err := auth.NewJWKSClient(&auth.JWKSConfig{
		EnableVerification: a.cfg.Auth.EnableVerification,
		JWKSEndpoints:      a.cfg.Auth.JWKSEndpoints,
		Audience:           a.cfg.Auth.Audience,
	})
	if err != nil {
		return fmt.Errorf("failed to create JWKS client: %w", err)
	}
	defer jwksClient.Close()
	if !a.cfg.Auth.EnableVerification {
		a.logger.Warn("JWT signature verification is disabled")
	}

	handler := a.routes(db, jwksClient, a.newAPIServices(r, blobs, dispatcher))

	return a.listenAndServe(ctx, handler)
}

// routes builds the API mux wrapped in request logging.
func (a *app) routes(db *database.DB, jwksClient auth.JWKSClientInterface, svc apiServices) http.Handler {
	authMiddleware := auth.NewMiddleware(auth.NewAuthService(jwksClient, a.logger), a.logger)
	scope := handlers.ScopeMiddleware(database.WithRequestScope(db, a.logger))

	mux := http.NewServeMux()

	handlers.NewHealthHandler(a.cfg, db, a.logger).RegisterRoutes(mux)
	handlers.NewProjectsHandler(svc.projects, a.logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewMembersHandler(svc.members, a.logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewDatasetsHandler(svc.datasets, a.logger).RegisterRoutes(mux, authMiddleware, scope)
	handlers.NewUploadsHandler(svc.uploads, a.logger).RegisterRoutes(mux, authMiddleware, scope)

	if a.metrics != nil {
		mux.Handle("GET /metrics", a.metrics.Handler())
	}

	return middleware.RequestLogger(a.logger)(mux)
}

// listenAndServe serves until ctx ends, then shuts the server down gracefully.
func (a *app) listenAndServe(ctx context.Context, handler http.Handler) error {
	addr := net.JoinHostPort(a.cfg.BindAddr, a.cfg.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting evalkit-engine",
			zap.String("addr", addr),
			zap.String("version", a.cfg.Version),
			zap.Bool("tls", a.cfg.TLSCertPath != ""))

		var err error
		if a.cfg.TLSCertPath != "" {
			err = server.ListenAndServeTLS(a.cfg.TLSCertPath, a.cfg.TLSKeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	return nil
}
