package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/shrikeio/shrike/internal/admission"
	"github.com/shrikeio/shrike/internal/api"
	"github.com/shrikeio/shrike/internal/audit"
	"github.com/shrikeio/shrike/internal/config"
	"github.com/shrikeio/shrike/internal/eval"
	"github.com/shrikeio/shrike/internal/manifest"
	"github.com/shrikeio/shrike/internal/store"
	"github.com/shrikeio/shrike/internal/webhook"
)

func main() {
	var (
		configPath string
		policyDir  string
		addr       string
		apiAddr    string
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&policyDir, "policy-dir", "", "Policy manifest directory (overrides config)")
	flag.StringVar(&addr, "addr", "", "Admission listener address (overrides config)")
	flag.StringVar(&apiAddr, "api-addr", "", "API listener address (overrides config)")
	flag.Parse()

	logConfig := zap.NewProductionConfig()
	logConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := logConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if policyDir != "" {
		cfg.PolicyDir = policyDir
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if apiAddr != "" {
		cfg.APIAddr = apiAddr
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server error", zap.Error(err))
	}
}

// run wires the engine together and blocks until shutdown. Separated from
// main() for testability.
func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("Starting shrike admission engine",
		zap.String("addr", cfg.Addr),
		zap.String("api_addr", cfg.APIAddr),
		zap.String("policy_dir", cfg.PolicyDir),
		zap.String("failure_policy", cfg.FailurePolicy))

	// Policy set: load once, then hot-reload on changes.
	policyStore := store.New(logger)
	loader := manifest.NewLoader(cfg.PolicyDir, policyStore, logger)
	if err := loader.Load(); err != nil {
		return fmt.Errorf("initial policy load: %w", err)
	}
	watcher := manifest.NewWatcher(loader, logger)
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("policy watcher: %w", err)
	}

	evaluator := eval.NewEvaluator(eval.NewRegistry(), cfg.ConstraintBudget, logger)

	gateway := admission.NewGateway(policyStore, evaluator, admission.Config{
		FailurePolicy: admission.FailurePolicy(cfg.FailurePolicy),
		RequestBudget: cfg.RequestBudget,
	}, logger)

	// Cluster clients are only needed for self-signed certs and auditing;
	// both degrade gracefully outside a cluster.
	var certManager *webhook.CertManager
	var scanner *audit.Scanner

	restConfig, restErr := rest.InClusterConfig()
	if restErr != nil {
		logger.Warn("No in-cluster config; self-signed certs and audit disabled", zap.Error(restErr))
	}

	if restErr == nil && cfg.TLS.SelfSigned && cfg.TLS.CertFile == "" {
		clientset, err := kubernetes.NewForConfig(restConfig)
		if err != nil {
			return fmt.Errorf("failed to create Kubernetes client: %w", err)
		}
		certConfig := webhook.DefaultCertConfig(cfg.TLS.Namespace)
		if cfg.TLS.ServiceName != "" {
			certConfig.ServiceName = cfg.TLS.ServiceName
		}
		certManager = webhook.NewCertManager(clientset, certConfig, logger)
		if err := certManager.Ensure(ctx); err != nil {
			return fmt.Errorf("failed to ensure certificates: %w", err)
		}

		// The VWC may not exist yet when the pod starts; retry in the
		// background with capped backoff.
		go func() {
			for attempt := 0; attempt < 10; attempt++ {
				if err := certManager.SyncCABundle(ctx); err == nil {
					return
				}
				backoff := time.Duration(1<<uint(attempt)) * time.Second
				if backoff > 10*time.Second {
					backoff = 10 * time.Second
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
			}
			logger.Error("Failed to sync webhook CA bundle after retries")
		}()
		certManager.StartRotation(ctx, 24*time.Hour)
	}

	if restErr == nil && cfg.Audit.Schedule != "" {
		dynClient, err := dynamic.NewForConfig(restConfig)
		if err != nil {
			return fmt.Errorf("failed to create dynamic client: %w", err)
		}
		source, err := audit.NewDynamicSource(dynClient, cfg.Audit.Targets)
		if err != nil {
			return err
		}
		scanner = audit.NewScanner(policyStore, evaluator, source, cfg.Audit.Schedule, logger)
		if err := scanner.Start(ctx); err != nil {
			return fmt.Errorf("audit scanner: %w", err)
		}
	}

	handler := NewAdmissionHandler(gateway, logger)
	apiHandler := api.NewHandler(policyStore, scanner, logger)

	server := NewServer(ServerConfig{
		Addr:        cfg.Addr,
		APIAddr:     cfg.APIAddr,
		TLSCertFile: cfg.TLS.CertFile,
		TLSKeyFile:  cfg.TLS.KeyFile,
		CertManager: certManager,
	}, handler, apiHandler, logger)

	if err := server.Start(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}
