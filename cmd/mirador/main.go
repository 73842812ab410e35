// Command mirador runs the sync worker and index tooling against a schema
// file shared with the embedding application.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/miradordb/mirador/auth"
	"github.com/miradordb/mirador/document"
	"github.com/miradordb/mirador/internal/config"
	"github.com/miradordb/mirador/mirror"
	"github.com/miradordb/mirador/mongodb"
	"github.com/miradordb/mirador/pkg/logger"
	"github.com/miradordb/mirador/pkg/metrics"
	"github.com/miradordb/mirador/search"
)

var (
	schemasPath string
	logLevel    string
)

func main() {
	root := &cobra.Command{
		Use:           "mirador",
		Short:         "document store and search mirror tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&schemasPath, "schemas", "schemas.yaml",
		"YAML file declaring the document schemas")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level override (debug, info, warn, error)")

	root.AddCommand(syncCmd(), reindexCmd(), searchCmd(), mappingCmd(),
		pingCmd(), tokenCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type env struct {
	cfg *config.Config
	log zerolog.Logger
	reg *document.Registry
}

func loadEnv(requireMongo bool) (*env, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		if requireMongo {
			return nil, err
		}
		cfg = &config.Config{LogLevel: "info"}
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log := logger.NewConsole(level)

	reg := document.NewRegistry()
	if _, err := document.LoadSchemaFile(reg, schemasPath); err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, reg: reg}, nil
}

func (e *env) openStore(ctx context.Context) (*mongodb.Store, func(), error) {
	client, err := mongodb.Connect(ctx, e.cfg.MongoDB.URI, e.cfg.MongoDB.Timeout)
	if err != nil {
		return nil, nil, err
	}
	store := mongodb.NewStore(client.Database(e.cfg.MongoDB.Database), e.reg).
		WithLogger(e.log)
	cleanup := func() { _ = client.Disconnect(context.Background()) }
	return store, cleanup, nil
}

func (e *env) openIndex() (*search.BleveIndexer, error) {
	if e.cfg.Index.Path == "" {
		return search.OpenMem(e.reg, e.log)
	}
	return search.Open(e.cfg.Index.Path, e.reg, e.log)
}

func (e *env) newQueue() mirror.Queue {
	if e.cfg.Redis.Addr == "" {
		return mirror.NewChannelQueue(e.cfg.Sync.QueueSize)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     e.cfg.Redis.Addr,
		Password: e.cfg.Redis.Password,
		DB:       e.cfg.Redis.DB,
	})
	return mirror.NewRedisQueue(client, e.cfg.Redis.QueueKey)
}

// syncCmd runs the mirror worker pool until interrupted. With a Redis
// queue configured it consumes tasks produced by other processes.
func syncCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "run the index sync workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(true)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, cleanup, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			idx, err := e.openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()

			m := mirror.New(e.newQueue(), store, e.reg, idx, mirror.Config{
				Workers:    e.cfg.Sync.Workers,
				ShardSize:  e.cfg.Sync.QueueSize,
				Rate:       e.cfg.Sync.Rate,
				Burst:      e.cfg.Sync.Burst,
				MaxRetries: e.cfg.Sync.MaxRetries,
			}, e.log)
			store.Subscribe(m)
			m.Start(ctx)

			if metricsAddr != "" {
				go serveMetrics(metricsAddr, e.log)
			}

			e.log.Info().Int("workers", e.cfg.Sync.Workers).Msg("sync workers running")
			<-ctx.Done()
			m.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "",
		"serve Prometheus metrics on this address")
	return cmd
}

func serveMetrics(addr string, log zerolog.Logger) {
	reg := prometheus.NewRegistry()
	metrics.RegisterCollectors(reg)
	reg.MustRegister(collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error().Err(err).Msg("metrics server stopped")
	}
}

func reindexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "rebuild the search index from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, cleanup, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			idx, err := e.openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()

			n, err := mirror.Reindex(ctx, store, idx, e.cfg.Sync.BatchSize, e.log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d documents\n", n)
			return nil
		},
	}
	return cmd
}

func searchCmd() *cobra.Command {
	var docType string
	var limit int
	var token string
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "query the index and print matching documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			idx, err := e.openIndex()
			if err != nil {
				return err
			}
			defer idx.Close()

			pks, err := idx.Search(ctx, docType, args[0], limit)
			if err != nil {
				return err
			}
			if len(pks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matches")
				return nil
			}

			store, cleanup, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			sch, err := e.reg.Get(docType)
			if err != nil {
				return err
			}
			ids := make([]any, len(pks))
			for i, pk := range pks {
				ids[i] = pk
			}
			res, err := store.GetByIDs(ctx, sch, ids)
			if err != nil {
				return err
			}

			lvl, _, err := auth.LevelFromToken(token, []byte(e.cfg.JWT.Secret))
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, d := range res.Docs {
				m, err := d.ToMap(ctx, -1, store)
				if err != nil {
					return err
				}
				if err := enc.Encode(sch.View(m, lvl)); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&docType, "type", "", "schema name to search")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of hits")
	cmd.Flags().StringVar(&token, "token", "", "access token for field visibility")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

// mappingCmd prints the derived index mapping, mostly for debugging schema
// files.
func mappingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mapping",
		Short: "print the index mapping derived from the schema file",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(false)
			if err != nil {
				return err
			}
			im, err := search.IndexMapping(e.reg)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(im)
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "verify store and queue connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(true)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			_, cleanup, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer cleanup()
			fmt.Fprintln(cmd.OutOrStdout(), "mongodb ok")

			if e.cfg.Redis.Addr != "" {
				client := redis.NewClient(&redis.Options{
					Addr:     e.cfg.Redis.Addr,
					Password: e.cfg.Redis.Password,
					DB:       e.cfg.Redis.DB,
				})
				defer client.Close()
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis ping: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "redis ok")
			}
			return nil
		},
	}
}

// tokenCmd mints an access token for trying out field visibility.
func tokenCmd() *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "mint an access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.JWT.Secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			raw, err := auth.NewToken(subject, []byte(cfg.JWT.Secret))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), raw)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
