package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/config"
)

var (
	configFile string
	backend    string
	fileDir    string
	redisAddr  string
	redisPass  string
	redisDB    int
	pgDSN      string
	modeFlag   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulsar",
		Short: "Pulsar - multi-backend key-value cache",
		Long:  "A key-value cache with interchangeable file, Redis, Postgres, and in-memory backends",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "", "Backend: memory, file, redis, postgres")
	rootCmd.PersistentFlags().StringVar(&fileDir, "dir", "", "File backend root directory")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "Redis address")
	rootCmd.PersistentFlags().StringVar(&redisPass, "redis-pass", "", "Redis password")
	rootCmd.PersistentFlags().IntVar(&redisDB, "redis-db", 0, "Redis database")
	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "Fault policy: throw or fail")

	rootCmd.AddCommand(
		getCmd(),
		setCmd(),
		deleteCmd(),
		hasCmd(),
		mgetCmd(),
		msetCmd(),
		mdeleteCmd(),
		clearCmd(),
		gcCmd(),
		daemonCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional config file, env vars, and flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	config.LoadFromEnv(cfg)

	if cmd.Flags().Changed("backend") {
		cfg.Backend = backend
	}
	if cmd.Flags().Changed("dir") {
		cfg.File.Dir = fileDir
	}
	if cmd.Flags().Changed("redis") {
		cfg.Redis.Addr = redisAddr
	}
	if cmd.Flags().Changed("redis-pass") {
		cfg.Redis.Password = redisPass
	}
	if cmd.Flags().Changed("redis-db") {
		cfg.Redis.DB = redisDB
	}
	if cmd.Flags().Changed("pg-dsn") {
		cfg.Postgres.DSN = pgDSN
	}
	if cmd.Flags().Changed("mode") {
		cfg.Mode = modeFlag
	}
	return cfg, nil
}

// openCache builds the configured backend. The returned func releases any
// connection resources.
func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, func(), error) {
	mode, ok := cache.ParseMode(cfg.Mode)
	if !ok {
		return nil, nil, fmt.Errorf("invalid mode: %s (valid: throw, fail)", cfg.Mode)
	}

	switch cfg.Backend {
	case "memory", "":
		c := cache.NewMemoryCache()
		c.SetMode(mode)
		return c, func() {}, nil

	case "file":
		c, err := cache.NewFileCache(cfg.File.Dir)
		if err != nil {
			return nil, nil, err
		}
		c.SetMode(mode)
		return c, func() {}, nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		c, err := cache.NewRedisCache(ctx, client, cache.RedisOptions{
			Prefix: cfg.Redis.Prefix,
			Mode:   mode,
		})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return c, func() { client.Close() }, nil

	case "postgres":
		if cfg.Postgres.DSN == "" {
			return nil, nil, fmt.Errorf("postgres backend requires a DSN (--pg-dsn or PULSAR_PG_DSN)")
		}
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		c, err := cache.NewPostgresCache(ctx, pool, cache.PostgresOptions{
			Table: cfg.Postgres.Table,
			Mode:  mode,
		})
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return c, func() { pool.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend: %s (valid: memory, file, redis, postgres)", cfg.Backend)
}

// withCache wraps a command body with config loading and backend setup.
func withCache(cmd *cobra.Command, fn func(ctx context.Context, c cache.Cache) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	c, closeFn, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, c)
}

// parseValue decodes a CLI value argument: JSON when it parses, raw string
// otherwise, so `pulsar set k 42` and `pulsar set k '{"a":1}'` both work.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

func printValue(v any) {
	switch v.(type) {
	case nil:
		fmt.Println("(nil)")
	case string:
		fmt.Println(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			fmt.Println(v)
			return
		}
		fmt.Println(string(data))
	}
}

func parseTTL(ttl time.Duration, changed bool) cache.TTL {
	if !changed {
		return cache.NoExpiry()
	}
	return cache.Expires(ttl)
}

func getCmd() *cobra.Command {
	var def string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				v, err := c.Get(ctx, args[0], parseValue(def))
				if err != nil {
					return err
				}
				printValue(v)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&def, "default", "null", "Default returned on a miss (JSON)")
	return cmd
}

func setCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				ok, err := c.Set(ctx, args[0], parseValue(args[1]), parseTTL(ttl, cmd.Flags().Changed("ttl")))
				if err != nil {
					return err
				}
				fmt.Println(ok)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Time to live (e.g. 30s, 5m); omit for no expiry")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				ok, err := c.Delete(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(ok)
				return nil
			})
		},
	}
}

func hasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "has <key>",
		Short: "Check whether a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				ok, err := c.Has(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(ok)
				return nil
			})
		},
	}
}

func mgetCmd() *cobra.Command {
	var def string
	cmd := &cobra.Command{
		Use:   "mget <key>...",
		Short: "Fetch several values at once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				out, err := c.GetMulti(ctx, args, parseValue(def))
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(out, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&def, "default", "null", "Default per missing key (JSON)")
	return cmd
}

func msetCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "mset <key>=<value>...",
		Short: "Store several values at once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values := make(map[string]any, len(args))
			for _, arg := range args {
				k, v, found := strings.Cut(arg, "=")
				if !found {
					return fmt.Errorf("invalid pair %q, expected key=value", arg)
				}
				values[k] = parseValue(v)
			}
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				ok, err := c.SetMulti(ctx, values, parseTTL(ttl, cmd.Flags().Changed("ttl")))
				if err != nil {
					return err
				}
				fmt.Println(ok)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Time to live applied to every pair; omit for no expiry")
	return cmd
}

func mdeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mdelete <key>...",
		Short: "Remove several keys at once",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				ok, err := c.DeleteMulti(ctx, args)
				if err != nil {
					return err
				}
				fmt.Println(ok)
				return nil
			})
		},
	}
}

func clearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry in the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				ok, err := c.Clear(ctx)
				if err != nil {
					return err
				}
				fmt.Println(ok)
				return nil
			})
		},
	}
}

func gcCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gc",
		Short: "Sweep expired and corrupt entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCache(cmd, func(ctx context.Context, c cache.Cache) error {
				col, ok := c.(cache.Collector)
				if !ok {
					return fmt.Errorf("backend does not support gc (Redis expires keys natively)")
				}
				n, err := col.GC(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("removed %d entries\n", n)
				return nil
			})
		},
	}
}
