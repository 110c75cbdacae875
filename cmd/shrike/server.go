package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shrikeio/shrike/internal/api"
	"github.com/shrikeio/shrike/internal/webhook"
)

// ServerConfig holds listener configuration for both servers.
type ServerConfig struct {
	// Addr is the HTTPS admission listener address (e.g. ":8443").
	Addr string

	// APIAddr is the plaintext API/metrics listener address (e.g. ":8080").
	APIAddr string

	// TLSCertFile / TLSKeyFile select file-based TLS. If empty, CertManager
	// supplies certificates.
	TLSCertFile string
	TLSKeyFile  string

	// CertManager manages self-signed TLS certificates (optional).
	CertManager *webhook.CertManager
}

// Server runs the admission HTTPS endpoint and the query API side by side.
type Server struct {
	config     ServerConfig
	handler    *AdmissionHandler
	apiHandler *api.Handler
	logger     *zap.Logger
}

// NewServer creates a Server.
func NewServer(config ServerConfig, handler *AdmissionHandler, apiHandler *api.Handler, logger *zap.Logger) *Server {
	return &Server{
		config:     config,
		handler:    handler,
		apiHandler: apiHandler,
		logger:     logger.Named("server"),
	}
}

// Start serves until the context is cancelled or either listener fails.
func (s *Server) Start(ctx context.Context) error {
	admissionMux := http.NewServeMux()
	admissionMux.HandleFunc("/validate", s.handler.Handle)
	admissionMux.HandleFunc("/healthz", s.handleHealth)
	admissionMux.HandleFunc("/readyz", s.handleHealth)

	admissionServer := &http.Server{
		Addr:         s.config.Addr,
		Handler:      admissionMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	tlsConfig, err := s.tlsConfig()
	if err != nil {
		return fmt.Errorf("failed to configure TLS: %w", err)
	}
	admissionServer.TLSConfig = tlsConfig

	apiMux := http.NewServeMux()
	s.apiHandler.Register(apiMux)
	apiMux.Handle("/metrics", promhttp.Handler())
	apiMux.HandleFunc("/healthz", s.handleHealth)
	apiMux.HandleFunc("/readyz", s.handleHealth)

	apiServer := &http.Server{
		Addr:         s.config.APIAddr,
		Handler:      apiMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		s.logger.Info("Starting admission server", zap.String("addr", s.config.Addr))
		var err error
		if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
			err = admissionServer.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = admissionServer.ListenAndServeTLS("", "")
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		s.logger.Info("Starting API server", zap.String("addr", s.config.APIAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		errA := admissionServer.Shutdown(shutdownCtx)
		errB := apiServer.Shutdown(shutdownCtx)
		if errA != nil {
			return errA
		}
		return errB
	case err := <-errCh:
		return err
	}
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}

	if s.config.CertManager != nil {
		// Dynamic loading picks up rotated certificates without restart.
		return &tls.Config{
			GetCertificate: func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
				certPEM, keyPEM := s.config.CertManager.ServingPair()
				if len(certPEM) == 0 || len(keyPEM) == 0 {
					return nil, fmt.Errorf("certificate manager has no certificates")
				}
				cert, err := tls.X509KeyPair(certPEM, keyPEM)
				if err != nil {
					return nil, fmt.Errorf("failed to load certificate: %w", err)
				}
				return &cert, nil
			},
			MinVersion:       tls.VersionTLS12,
			CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
		}, nil
	}

	return nil, fmt.Errorf("no TLS configuration provided")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
