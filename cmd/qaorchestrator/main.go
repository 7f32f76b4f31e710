// Command qaorchestrator serves the QA pipeline orchestration API.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/MyCarrier-DevOps/goQAOrchestrator/api"
	"github.com/MyCarrier-DevOps/goQAOrchestrator/badgr"
	"github.com/MyCarrier-DevOps/goQAOrchestrator/config"
	"github.com/MyCarrier-DevOps/goQAOrchestrator/events"
	"github.com/MyCarrier-DevOps/goQAOrchestrator/github"
	"github.com/MyCarrier-DevOps/goQAOrchestrator/jenkins"
	"github.com/MyCarrier-DevOps/goQAOrchestrator/logger"
	"github.com/MyCarrier-DevOps/goQAOrchestrator/pipeline"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "qaorchestrator:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	vaultCfg, err := config.VaultLoadConfig()
	if err != nil {
		return fmt.Errorf("loading vault configuration: %w", err)
	}
	if err := config.ApplyVaultSecrets(ctx, cfg, vaultCfg); err != nil {
		return fmt.Errorf("applying vault secrets: %w", err)
	}

	log := logger.NewZapLogger(logger.NewAppLogger(cfg.Loglevel))

	store, err := pipeline.NewSnapshotStore(cfg.StorePath, log)
	if err != nil {
		return fmt.Errorf("opening pipeline store: %w", err)
	}
	defer store.Close()

	session, err := githubSession(cfg)
	if err != nil {
		return fmt.Errorf("establishing github session: %w", err)
	}
	repos := github.NewGateway(session, log)

	ci, err := jenkins.NewGateway(ctx, cfg.Jenkins.URL, cfg.Jenkins.Username, cfg.Jenkins.Token, log)
	if err != nil {
		return fmt.Errorf("connecting to jenkins: %w", err)
	}

	badges := badgr.NewGateway(badgr.Config{
		URL:      cfg.Badgr.URL,
		Username: cfg.Badgr.Username,
		Password: cfg.Badgr.Password,
	}, log)

	client, err := pipeline.NewClient(store, repos, ci, badges, pipeline.Config{
		Organization:         cfg.Github.Organization,
		BadgeIssuer:          cfg.Badgr.Issuer,
		FallbackCredentialID: cfg.Synthesizer.FallbackCredentialID,
		DefaultDockerOrg:     cfg.Synthesizer.DefaultDockerOrg,
		LibraryVersion:       cfg.Synthesizer.LibraryVersion,
		Logger:               log,
	})
	if err != nil {
		return fmt.Errorf("building pipeline controller: %w", err)
	}

	if cfg.Kafka.Address != "" {
		notifier, err := events.NewNotifier(cfg.Kafka, log)
		if err != nil {
			return fmt.Errorf("connecting to kafka: %w", err)
		}
		defer notifier.Close()
		client = client.WithNotifier(notifier)
	}

	server := api.NewServer(client, api.Options{
		ApiKey: cfg.ApiKey,
		Logger: log,
	})
	log.Info(ctx, "Serving QA orchestration API", map[string]interface{}{
		"listen": cfg.Listen,
	})
	return server.Run(cfg.Listen)
}

func githubSession(cfg *config.Config) (*github.Session, error) {
	if cfg.Github.Token != "" {
		return github.NewTokenSession(cfg.Github.Token)
	}
	return github.NewSession(
		cfg.Github.AppPrivateKey,
		strconv.FormatInt(cfg.Github.AppID, 10),
		strconv.FormatInt(cfg.Github.InstallID, 10),
	)
}
