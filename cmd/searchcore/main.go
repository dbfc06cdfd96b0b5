// Command searchcore is the Search Core's process entry point: it loads
// the typed configuration document, wires the evaluator client into a
// session.Manager, and serves the versioned HTTP API of §6.1, following
// the teacher's cmd_api.NewAPIServer(port)/Start() shape.
package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/prismbench/searchcore/internal/config"
	"github.com/prismbench/searchcore/internal/evaluator"
	"github.com/prismbench/searchcore/internal/httpapi"
	"github.com/prismbench/searchcore/internal/metrics"
	"github.com/prismbench/searchcore/internal/session"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	configPath := os.Getenv("SEARCHCORE_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	doc, err := config.NewLoader(configPath).Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load search core configuration")
	}

	m := metrics.New()
	evalClient := evaluator.New(doc.ToEvaluatorConfig(), nil, logger, m)
	manager := session.NewManager(doc.ToExperimentConfig(), evalClient, logger, doc.Snapshots.Directory)
	manager.SetMetrics(m)

	server := httpapi.NewServer(manager, logger, m, "/api/v1")
	if err := server.Run(doc.Server.ListenAddr); err != nil {
		logger.WithError(err).Fatal("search core API server stopped")
	}
}
