package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/target/learnhub/config"
	"github.com/target/learnhub/internal/migrate"
)

const connectTimeout = 5 * time.Second

// ConnectDB opens the profile database and verifies it answers.
func ConnectDB(ctx context.Context, cfg config.DBConfig, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("pgx", postgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(min(5, maxConns))
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if pingErr := db.PingContext(pingCtx); pingErr != nil {
		if closeErr := db.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close database connection: %w", closeErr))
		}
		return nil, fmt.Errorf("ping database: %w", pingErr)
	}

	if logger != nil {
		logger.InfoContext(ctx, "database connected", "host", cfg.Host, "port", cfg.Port, "database", cfg.Name)
	}
	return db, nil
}

// postgresDSN builds the connection URL; url.URL escapes credentials.
func postgresDSN(cfg config.DBConfig) string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(cfg.User, cfg.Password),
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:   "/" + cfg.Name,
	}
	q := u.Query()
	q.Set("sslmode", cfg.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RunMigrations applies the embedded profile schema migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	if logger != nil {
		logger.InfoContext(ctx, "database migrations completed")
	}
	return nil
}

// redisTopology names the client shape chosen from RedisConfig.
type redisTopology string

const (
	topologyDirect   redisTopology = "direct"
	topologySentinel redisTopology = "sentinel"
	topologyCluster  redisTopology = "cluster"
)

// redisPlan is everything needed to build a client, resolved up front so the
// config rules can be tested without a server.
type redisPlan struct {
	topology   redisTopology
	addrs      []string
	username   string
	password   string
	masterName string
	sentinelPW string
	tls        *tls.Config
}

// describe renders the plan for logs without credentials.
func (p redisPlan) describe() string {
	switch p.topology {
	case topologySentinel:
		return "sentinel:" + p.masterName
	case topologyCluster:
		return "cluster:" + strings.Join(p.addrs, ",")
	default:
		return strings.Join(p.addrs, ",")
	}
}

func planRedis(cfg config.RedisConfig) (redisPlan, error) {
	switch {
	case cfg.UseCluster:
		return planCluster(cfg)
	case cfg.UseSentinel:
		nodes := trimAll(cfg.SentinelNodes)
		if len(nodes) == 0 {
			return redisPlan{}, errors.New("redis sentinel configuration requires at least one sentinel node")
		}
		return redisPlan{
			topology:   topologySentinel,
			addrs:      nodes,
			password:   cfg.Password,
			masterName: cfg.SentinelMasterName,
			sentinelPW: cfg.SentinelPassword,
		}, nil
	default:
		uri := strings.TrimSpace(cfg.URI)
		if uri == "" {
			return redisPlan{}, errors.New("redis direct configuration requires a URI")
		}
		return planFromURI(topologyDirect, uri, cfg.Password)
	}
}

func planCluster(cfg config.RedisConfig) (redisPlan, error) {
	if nodes := trimAll(cfg.ClusterNodes); len(nodes) > 0 {
		return redisPlan{topology: topologyCluster, addrs: nodes, password: cfg.Password}, nil
	}
	uri := strings.TrimSpace(cfg.URI)
	if uri == "" {
		return redisPlan{}, errors.New("redis cluster configuration requires at least one address")
	}
	return planFromURI(topologyCluster, uri, cfg.Password)
}

// planFromURI accepts either a redis:// URL or a bare host:port.
func planFromURI(topology redisTopology, uri, password string) (redisPlan, error) {
	if !strings.HasPrefix(uri, "redis://") && !strings.HasPrefix(uri, "rediss://") {
		return redisPlan{topology: topology, addrs: []string{uri}, password: password}, nil
	}
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return redisPlan{}, fmt.Errorf("parse redis url: %w", err)
	}
	if opt.Password != "" {
		password = opt.Password
	}
	return redisPlan{
		topology: topology,
		addrs:    []string{opt.Addr},
		username: opt.Username,
		password: password,
		tls:      opt.TLSConfig,
	}, nil
}

//nolint:ireturn // the topology is only known at runtime.
func (p redisPlan) client() redis.UniversalClient {
	switch p.topology {
	case topologyCluster:
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs: p.addrs, Username: p.username, Password: p.password, TLSConfig: p.tls,
		})
	case topologySentinel:
		return redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:       p.masterName,
			SentinelAddrs:    p.addrs,
			Password:         p.password,
			SentinelPassword: p.sentinelPW,
		})
	default:
		return redis.NewClient(&redis.Options{
			Addr: p.addrs[0], Username: p.username, Password: p.password, TLSConfig: p.tls,
		})
	}
}

// ConnectRedis builds the client RedisConfig asks for and verifies it answers.
//
//nolint:ireturn // returning redis.UniversalClient lets us pick single, sentinel, or cluster clients at runtime.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (redis.UniversalClient, error) {
	plan, err := planRedis(cfg)
	if err != nil {
		return nil, err
	}
	client := plan.client()

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if pingErr := client.Ping(pingCtx).Err(); pingErr != nil {
		if closeErr := client.Close(); closeErr != nil {
			pingErr = errors.Join(pingErr, fmt.Errorf("close redis client: %w", closeErr))
		}
		return nil, fmt.Errorf("ping redis: %w", pingErr)
	}

	if logger != nil {
		logger.InfoContext(ctx, "redis connected", "topology", string(plan.topology), "addr", plan.describe())
	}
	return client, nil
}

func trimAll(raw []string) []string {
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
