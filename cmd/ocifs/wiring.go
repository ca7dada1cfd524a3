package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ocifs/ocifs-go/internal/config"
	"github.com/ocifs/ocifs-go/internal/credentials"
	"github.com/ocifs/ocifs-go/internal/filesystem"
	"github.com/ocifs/ocifs-go/internal/lake"
	"github.com/ocifs/ocifs-go/internal/objectstore"
	"github.com/ocifs/ocifs-go/internal/s3client"
	"github.com/ocifs/ocifs-go/internal/storage"
)

// localNamespace names the single namespace of the database backends when
// none is configured.
const localNamespace = "local"

// loadCredentials reads customer secret keys from, in order, the passwd
// file, the config file and the environment.
func loadCredentials(cfg config.CredentialsConfig) (*credentials.Credentials, error) {
	switch {
	case cfg.PasswdFile != "":
		creds := credentials.NewCredentials()
		if err := creds.LoadFromPasswdFile(cfg.PasswdFile); err != nil {
			return nil, fmt.Errorf("failed to load credentials from file: %w", err)
		}
		return creds, nil
	case cfg.AccessKeyID != "":
		return credentials.Static(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken), nil
	}
	creds := credentials.NewCredentials()
	if err := creds.LoadFromEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to load credentials from environment: %w", err)
	}
	return creds, nil
}

// openStore builds the direct object store for the configured backend. The
// refresher is nil when the backend holds no credentials.
func openStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (objectstore.ObjectStore, filesystem.Refresher, error) {
	if cfg.Backend != config.BackendOCI {
		ns := cfg.Namespace
		if ns == "" {
			ns = localNamespace
		}
		store, err := storage.Open(cfg.StorageConfig(), ns)
		if err != nil {
			return nil, nil, err
		}
		store.CompartmentID = cfg.CompartmentID
		store.Logger = logger
		return store, nil, nil
	}

	if cfg.Namespace == "" {
		return nil, nil, errors.New("namespace is required for the oci backend")
	}
	creds, err := loadCredentials(cfg.Credentials)
	if err != nil {
		logger.WithError(err).Warn("No credentials found, sending anonymous requests")
		creds = nil
	}
	client, err := s3client.NewClient(ctx, s3client.Config{
		Region:           cfg.Region,
		Namespace:        cfg.Namespace,
		CompartmentID:    cfg.CompartmentID,
		EndpointTemplate: cfg.EndpointTemplate,
		Endpoint:         cfg.Endpoint,
		Credentials:      creds,
		Logger:           logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if creds == nil {
		return client, nil, nil
	}
	return client, client, nil
}

// serveMetrics exposes reg on addr in the background.
func serveMetrics(addr string, reg *prometheus.Registry, logger logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		logger.Infof("Serving metrics on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
}

func buildFilesystem(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*filesystem.Filesystem, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	direct, refresher, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := objectstore.NewMetrics(reg)
	direct = metrics.Instrument(direct, cfg.Backend)
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, reg, logger)
	}

	registry := lake.NewRegistry(lake.Options{
		Direct: direct,
		Endpoints: lake.Endpoints{
			Lakehouse:     cfg.Lake.LakehouseTemplate,
			ObjectStorage: cfg.Lake.ObjectStorageTemplate,
		},
		Transport: lake.TransportOptions{RetryMax: cfg.Lake.RetryMax},
		Metrics:   metrics,
		Logger:    logger,
	})

	opts := filesystem.Options{
		Store:             direct,
		Registry:          registry,
		Namespace:         cfg.Namespace,
		CompartmentID:     cfg.CompartmentID,
		Region:            cfg.Region,
		BlockSize:         cfg.Upload.BlockSize,
		Retries:           cfg.Upload.Retries,
		FetchAttempts:     cfg.Upload.FetchAttempts,
		DeleteConcurrency: cfg.Upload.DeleteConcurrency,
		Logger:            logger,
	}
	if opts.Namespace == "" && cfg.Backend != config.BackendOCI {
		opts.Namespace = localNamespace
	}
	if refresher != nil {
		opts.Refresher = refresher
	}
	return filesystem.New(opts)
}
