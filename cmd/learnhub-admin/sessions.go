package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	redisadapter "github.com/target/learnhub/internal/adapters/redis"
	"github.com/target/learnhub/internal/bootstrap"
)

const deleteBatchSize = 500

func withRedis(cmdCtx *commandContext, f func(context.Context, redis.UniversalClient) error) error {
	if !cmdCtx.Config.Redis.Configured() {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	client, err := bootstrap.ConnectRedis(ctx, cmdCtx.Config.Redis, cmdCtx.Logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()
	return f(ctx, client)
}

type revokeOptions struct {
	SID string
}

func parseRevokeFlags(args []string) (revokeOptions, error) {
	fs := flag.NewFlagSet("revoke-session", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts revokeOptions
	fs.StringVar(&opts.SID, "sid", "", "Browser session id (the decoded cookie value)")
	if err := fs.Parse(args); err != nil {
		return revokeOptions{}, err
	}
	opts.SID = strings.TrimSpace(opts.SID)
	if opts.SID == "" {
		return revokeOptions{}, errors.New("--sid is required")
	}
	return opts, nil
}

func runRevokeSession(cmdCtx *commandContext, args []string) error {
	opts, err := parseRevokeFlags(args)
	if err != nil {
		return err
	}
	return withRedis(cmdCtx, func(ctx context.Context, client redis.UniversalClient) error {
		return revokeSession(ctx, client, opts.SID, cmdCtx.Out)
	})
}

// revokeSession drops the provider tokens and hint of one browser session.
// A running server notices on its next session check for that browser.
func revokeSession(ctx context.Context, client redis.UniversalClient, sid string, w io.Writer) error {
	tokens := redisadapter.NewTokenStore(client)
	if err := tokens.Delete(ctx, sid); err != nil {
		return fmt.Errorf("delete tokens: %w", err)
	}
	cache := redisadapter.NewAuthCacheFactory(client, 0).ForSession(sid)
	if err := cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear auth cache: %w", err)
	}
	return writef(w, "revoked session %s\n", sid)
}

type clearCacheOptions struct {
	SID    string
	All    bool
	DryRun bool
	Yes    bool
}

func parseClearCacheFlags(args []string) (clearCacheOptions, error) {
	fs := flag.NewFlagSet("clear-auth-cache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts clearCacheOptions
	fs.StringVar(&opts.SID, "sid", "", "Clear a single browser session's hint")
	fs.BoolVar(&opts.All, "all", false, "Clear every auth hint")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "Only report what would be deleted")
	fs.BoolVar(&opts.Yes, "yes", false, "Confirm clearing every hint")
	if err := fs.Parse(args); err != nil {
		return clearCacheOptions{}, err
	}
	opts.SID = strings.TrimSpace(opts.SID)
	switch {
	case opts.SID == "" && !opts.All:
		return clearCacheOptions{}, errors.New("one of --sid or --all is required")
	case opts.SID != "" && opts.All:
		return clearCacheOptions{}, errors.New("--sid and --all are mutually exclusive")
	case opts.All && !opts.DryRun && !opts.Yes:
		return clearCacheOptions{}, errors.New("refusing to clear every auth hint without --yes")
	}
	return opts, nil
}

func runClearAuthCache(cmdCtx *commandContext, args []string) error {
	opts, err := parseClearCacheFlags(args)
	if err != nil {
		return err
	}
	return withRedis(cmdCtx, func(ctx context.Context, client redis.UniversalClient) error {
		n, err := clearAuthCache(ctx, client, opts)
		if err != nil {
			return err
		}
		verb := "deleted"
		if opts.DryRun {
			verb = "would delete"
		}
		return writef(cmdCtx.Out, "%s %d auth cache entries\n", verb, n)
	})
}

func clearAuthCache(ctx context.Context, client redis.UniversalClient, opts clearCacheOptions) (int, error) {
	pattern := redisadapter.AuthCacheKeyPrefix + "*"
	if opts.SID != "" {
		pattern = redisadapter.AuthCacheKeyPrefix + opts.SID
	}

	total := 0
	batch := make([]string, 0, deleteBatchSize)
	flush := func() error {
		if len(batch) == 0 || opts.DryRun {
			batch = batch[:0]
			return nil
		}
		if err := client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		batch = batch[:0]
		return nil
	}

	iter := client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		total++
		batch = append(batch, iter.Val())
		if len(batch) == deleteBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return total, fmt.Errorf("redis scan: %w", err)
	}
	return total, flush()
}
