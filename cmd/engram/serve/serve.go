// Package servecmder provides the serve command for running the engram
// memory server.
package servecmder

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/engram/api"
	"github.com/papercomputeco/engram/api/mcp"
	"github.com/papercomputeco/engram/pkg/config"
	"github.com/papercomputeco/engram/pkg/engine"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/index"
	"github.com/papercomputeco/engram/pkg/logger"
	"github.com/papercomputeco/engram/pkg/model/ollama"
	"github.com/papercomputeco/engram/pkg/recognition"
	"github.com/papercomputeco/engram/pkg/storage"
	"github.com/papercomputeco/engram/pkg/storage/inmemory"
	"github.com/papercomputeco/engram/pkg/storage/postgres"
	"github.com/papercomputeco/engram/pkg/storage/sqlite"
	"github.com/papercomputeco/engram/pkg/tier"
	"github.com/papercomputeco/engram/pkg/worker"
)

type ServeCommander struct {
	listen           string
	storageProvider  string
	sqlitePath       string
	postgresDSN      string
	hotMaxTurns      int
	hotMaxTokens     int
	tokenBudget      int
	recognitionModel string
	generationModel  string
	modelTarget      string
	eventsTopic      string
	mcpListen        string
	noMCP            bool
	debug            bool

	cfg    *config.Config
	logger *slog.Logger
}

const serveLongDesc string = `Run the engram memory server.

Serves the memory API for session management, turn processing, search,
and tier administration, plus an MCP server exposing memory tools to
agent clients.

Configuration resolves from CLI flags, then ENGRAM_* environment
variables, then config.toml in the .engram/ directory, then defaults.

Examples:
  engram serve
  engram serve --listen :9090 --storage-provider memory
  engram serve --sqlite ./memories.db --generation-model llama3.2`

const serveShortDesc string = "Run the engram memory server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	// Registry keys for the flags this command binds into viper.
	boundFlags := []string{
		config.FlagListen,
		config.FlagStorageProvider,
		config.FlagSQLite,
		config.FlagPostgresDSN,
		config.FlagHotMaxTurns,
		config.FlagHotMaxTokens,
		config.FlagTokenBudget,
		config.FlagRecognitionModel,
		config.FlagGenerationModel,
		config.FlagModelTarget,
		config.FlagEventsTopic,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return fmt.Errorf("initializing config: %w", err)
			}

			config.BindRegisteredFlags(v, cmd, config.Flags, boundFlags)

			cfg, err := config.UnmarshalConfig(v)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			cmder.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			return cmder.run()
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageProvider, &cmder.storageProvider)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddIntFlag(cmd, config.Flags, config.FlagHotMaxTurns, &cmder.hotMaxTurns)
	config.AddIntFlag(cmd, config.Flags, config.FlagHotMaxTokens, &cmder.hotMaxTokens)
	config.AddIntFlag(cmd, config.Flags, config.FlagTokenBudget, &cmder.tokenBudget)
	config.AddStringFlag(cmd, config.Flags, config.FlagRecognitionModel, &cmder.recognitionModel)
	config.AddStringFlag(cmd, config.Flags, config.FlagGenerationModel, &cmder.generationModel)
	config.AddStringFlag(cmd, config.Flags, config.FlagModelTarget, &cmder.modelTarget)
	config.AddStringFlag(cmd, config.Flags, config.FlagEventsTopic, &cmder.eventsTopic)

	cmd.Flags().StringVar(&cmder.mcpListen, "mcp-listen", ":8090", "Address for the MCP server to listen on")
	cmd.Flags().BoolVar(&cmder.noMCP, "no-mcp", false, "Disable the MCP server")

	return cmd
}

func (c *ServeCommander) run() error {
	c.logger = logger.New(logger.WithDebug(c.debug))
	cfg := c.cfg

	store, err := c.newStore()
	if err != nil {
		return err
	}
	defer store.Close()

	idx := index.NewIndexWithParams(cfg.Index.K1, cfg.Index.B)

	tiers, err := tier.NewManager(store, idx, cfg.Weights(), tier.Config{
		HotMaxTurns:    cfg.Memory.HotMaxTurns,
		HotMaxTokens:   cfg.Memory.HotMaxTokens,
		WarmMaxResults: cfg.Memory.WarmMaxResults,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("creating tier manager: %w", err)
	}

	recognizer := ollama.NewClient(ollama.Config{
		BaseURL: cfg.Recognition.Target,
		Model:   cfg.Recognition.Model,
	})
	generator := ollama.NewClient(ollama.Config{
		BaseURL: cfg.Generation.Target,
		Model:   cfg.Generation.Model,
	})

	coordinator, err := recognition.NewCoordinator(tiers, recognizer, store, recognition.Config{
		RetryCount:   cfg.Recognition.RetryCount,
		RetryBackoff: cfg.RetryBackoff(),
		CallTimeout:  cfg.CallTimeout(),
		TokenBudget:  cfg.Memory.TokenBudget,
		MaxResults:   cfg.Recognition.MaxResults,
	}, c.logger)
	if err != nil {
		return fmt.Errorf("creating recognition coordinator: %w", err)
	}

	events, err := c.newPublisher()
	if err != nil {
		return err
	}

	pool, err := worker.NewPool(&worker.Config{Logger: c.logger})
	if err != nil {
		return fmt.Errorf("creating worker pool: %w", err)
	}

	eng := engine.New(store, tiers, coordinator, generator, events, pool, c.logger)
	defer eng.Close()

	apiServer := api.NewServer(api.Config{ListenAddr: cfg.API.Listen}, eng, c.logger)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Engine: eng,
		Noop:   c.noMCP,
		Logger: c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}

	errChan := make(chan error, 2)

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	var mcpHTTP *http.Server
	if !c.noMCP {
		mcpHTTP = &http.Server{
			Addr:              c.mcpListen,
			Handler:           mcpServer.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		c.logger.Info("starting MCP server", "listen", c.mcpListen)

		go func() {
			if err := mcpHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("MCP server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
	}

	if err := apiServer.Shutdown(); err != nil {
		c.logger.Error("API server shutdown failed", "error", err)
	}
	if mcpHTTP != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mcpHTTP.Shutdown(ctx); err != nil {
			c.logger.Error("MCP server shutdown failed", "error", err)
		}
	}

	return nil
}

func (c *ServeCommander) newStore() (storage.Store, error) {
	switch c.cfg.Storage.Provider {
	case "sqlite":
		store, err := sqlite.NewStore(c.cfg.Storage.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("creating sqlite store: %w", err)
		}
		c.logger.Info("using sqlite storage", "path", c.cfg.Storage.SQLitePath)
		return store, nil
	case "postgres":
		store, err := postgres.NewStore(context.Background(), c.cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("creating postgres store: %w", err)
		}
		c.logger.Info("using postgres storage")
		return store, nil
	case "memory":
		c.logger.Info("using in-memory storage")
		return inmemory.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %q", c.cfg.Storage.Provider)
	}
}

func (c *ServeCommander) newPublisher() (eventstream.Publisher, error) {
	if len(c.cfg.Events.Brokers) == 0 {
		c.logger.Info("event publishing disabled, no brokers configured")
		return eventstream.Nop{}, nil
	}

	pub, err := eventstream.NewKafkaPublisher(c.cfg.Events.Brokers, c.cfg.Events.Topic)
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}

	c.logger.Info("publishing lifecycle events",
		"brokers", c.cfg.Events.Brokers,
		"topic", c.cfg.Events.Topic,
	)
	return pub, nil
}
