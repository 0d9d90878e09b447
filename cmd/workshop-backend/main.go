package main

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wrenchio/workshop-backend/internal/api"
	"github.com/wrenchio/workshop-backend/internal/audit"
	"github.com/wrenchio/workshop-backend/internal/auth"
	"github.com/wrenchio/workshop-backend/internal/backup"
	"github.com/wrenchio/workshop-backend/internal/config"
	"github.com/wrenchio/workshop-backend/internal/secretbox"
	"github.com/wrenchio/workshop-backend/internal/storage"
)

func main() {
	cfg := config.Parse()

	// Configure logging format.
	var logHandler slog.Handler
	if cfg.LogFormat == "text" {
		logHandler = slog.NewTextHandler(os.Stdout, nil)
	} else {
		logHandler = slog.NewJSONHandler(os.Stdout, nil)
	}
	slog.SetDefault(slog.New(logHandler))

	// Disable audit logging if configured.
	if !cfg.AuditLogs {
		audit.Enabled = false
	}

	// Open storage.
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}

	masterKey, err := cfg.MasterKeyBytes()
	if err != nil || len(masterKey) != 32 {
		fmt.Fprintf(os.Stderr, "master key must be 32 hex-encoded bytes\n")
		os.Exit(1)
	}
	box, err := secretbox.New(masterKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid master key: %v\n", err)
		os.Exit(1)
	}
	fileTokens, err := auth.NewFileTokenIssuer(masterKey, cfg.FileTokenTTL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file token issuer: %v\n", err)
		os.Exit(1)
	}

	// Authorization gate.
	principals := auth.NewPrincipalResolver(store, store, store)
	memberships := auth.NewMembershipResolver(store, store)
	gate := auth.NewGate(principals, memberships)

	serverOpts := []api.ServerOption{
		api.WithSessionTTL(cfg.SessionTTL),
		api.WithAPITokenTTL(cfg.APITokenTTL),
		api.WithFileTokens(fileTokens, cfg.FileTokenTTL),
		api.WithSecretBox(box),
		api.WithOrgCache(cfg.OrgCacheSize, cfg.OrgCacheTTL),
		api.WithMaxSnapshotBytes(cfg.MaxSnapshotBytes),
	}

	// Browser login via OIDC.
	var revalidator *auth.SessionRevalidator
	if cfg.OIDCIssuer != "" {
		if cfg.OIDCClientID == "" || cfg.OIDCClientSecret == "" || cfg.OIDCRedirectURL == "" {
			fmt.Fprintf(os.Stderr, "oidc-client-id, oidc-client-secret, and oidc-redirect-url are required when oidc-issuer is set\n")
			os.Exit(1)
		}
		oidcAuth, err := auth.NewOIDCAuthenticator(context.Background(), auth.OIDCConfig{
			Issuer:         cfg.OIDCIssuer,
			ClientID:       cfg.OIDCClientID,
			ClientSecret:   cfg.OIDCClientSecret,
			RedirectURL:    cfg.OIDCRedirectURL,
			AllowedDomains: parseCSVList(cfg.OIDCAllowedDomains),
			Scopes:         parseCSVList(cfg.OIDCScopes),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create OIDC authenticator: %v\n", err)
			os.Exit(1)
		}
		serverOpts = append(serverOpts, api.WithOIDCAuth(oidcAuth))
		revalidator = auth.NewSessionRevalidator(store, oidcAuth, box)
		slog.Info("browser login enabled", "issuer", cfg.OIDCIssuer, "client_id", cfg.OIDCClientID)
	}

	// Role presets.
	if cfg.RolePresetsPath != "" {
		presets, err := auth.LoadRolePresets(cfg.RolePresetsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load role presets: %v\n", err)
			os.Exit(1)
		}
		serverOpts = append(serverOpts, api.WithRolePresets(presets))
		slog.Info("role presets loaded", "path", cfg.RolePresetsPath, "count", len(presets))
	}

	// Scheduled database backups.
	var backupScheduler *backup.Scheduler
	if cfg.BackupDir != "" {
		runner, err := backup.NewRunner(store, cfg.BackupDir, cfg.BackupRetention)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to set up backups: %v\n", err)
			os.Exit(1)
		}
		serverOpts = append(serverOpts, api.WithBackups(runner))
		backupScheduler = backup.NewScheduler(runner.Run, cfg.BackupInterval)
		slog.Info("backups enabled", "dir", cfg.BackupDir, "interval", cfg.BackupInterval.String(), "retention", cfg.BackupRetention)
	}

	srv := api.NewServer(store, gate, serverOpts...)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Periodic session maintenance: drop expired sessions, then revalidate the
	// remaining OIDC sessions so deactivated accounts are signed out early.
	sweepStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				if n, err := store.DeleteExpiredSessions(ctx); err != nil {
					slog.Error("session sweep failed", "error", err)
				} else if n > 0 {
					slog.Info("expired sessions deleted", "count", n)
				}
				if revalidator != nil {
					if n, err := revalidator.Run(ctx); err != nil {
						slog.Error("session revalidation failed", "error", err)
					} else if n > 0 {
						slog.Info("sessions revoked after revalidation", "count", n)
					}
				}
				cancel()
			case <-sweepStop:
				return
			}
		}
	}()

	// Start separate management server for health probes and metrics.
	var mgmtServer *http.Server
	if cfg.ManagementAddr != "" {
		mgmtMux := http.NewServeMux()
		mgmtMux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = stdjson.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})
		mgmtMux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := store.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = stdjson.NewEncoder(w).Encode(map[string]string{"status": "error"})
				return
			}
			_ = stdjson.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})
		mgmtMux.Handle("GET /metrics", api.MetricsHandler())

		mgmtServer = &http.Server{
			Addr:              cfg.ManagementAddr,
			Handler:           mgmtMux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("management server starting", "addr", cfg.ManagementAddr)
			if err := mgmtServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("management server error", "error", err)
			}
		}()
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	done := make(chan struct{})
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig.String())

		// Give in-flight requests 30 seconds to complete.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if mgmtServer != nil {
			if err := mgmtServer.Shutdown(ctx); err != nil {
				slog.Error("management server shutdown error", "error", err)
			}
		}
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
		close(done)
	}()

	slog.Info("workshop backend starting", "addr", cfg.Addr)

	if cfg.TLS {
		err = httpServer.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
	} else {
		err = httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown to complete.
	<-done

	close(sweepStop)
	if backupScheduler != nil {
		backupScheduler.Shutdown()
	}
	store.Close()
	slog.Info("shutdown complete")
}

func parseCSVList(s string) []string {
	var result []string
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			result = append(result, v)
		}
	}
	return result
}
