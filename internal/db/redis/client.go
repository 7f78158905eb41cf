package redis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/rueidis"

	"github.com/kailas-cloud/pagedex/internal/db"
)

var _ db.Store = (*Store)(nil)

const (
	clientName         = "pagedex"
	defaultDialTimeout = 5 * time.Second
)

// Config describes how to reach a Redis 8+ or Valkey server.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int
	// Flavor selects the server dialect. Empty means redis.
	Flavor      db.Flavor
	DialTimeout time.Duration
}

func (c Config) flavor() (db.Flavor, error) {
	switch c.Flavor {
	case "":
		return db.FlavorRedis, nil
	case db.FlavorRedis, db.FlavorValkey:
		return c.Flavor, nil
	}
	return "", fmt.Errorf("unknown flavor %q", c.Flavor)
}

// Store is the rueidis-backed db.Store.
type Store struct {
	client rueidis.Client
	flavor db.Flavor
}

// NewStore connects to the configured addresses. Client-side caching is
// off and replies are forced to RESP2, which the FT.SEARCH parser expects.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, errors.New("addrs is required")
	}
	flavor, err := cfg.flavor()
	if err != nil {
		return nil, err
	}
	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = defaultDialTimeout
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		ClientName:   clientName,
		Dialer:       net.Dialer{Timeout: dial},
		DisableCache: true,
		AlwaysRESP2:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s %v: %w", flavor, cfg.Addrs, err)
	}
	return &Store{client: client, flavor: flavor}, nil
}

func (s *Store) Flavor() db.Flavor { return s.flavor }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Do(ctx, s.b().Ping().Build()).Error(); err != nil {
		return fmt.Errorf("ping %s: %w", s.flavor, err)
	}
	return nil
}

func (s *Store) Close() { s.client.Close() }

// WaitForReady pings with exponential backoff until the server answers or
// timeout elapses, and returns the last ping error on failure.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = timeout

	var last error
	err := backoff.Retry(func() error {
		last = s.Ping(ctx)
		return last
	}, backoff.WithContext(b, ctx))
	if err == nil {
		return nil
	}
	if last == nil {
		last = err
	}
	return fmt.Errorf("%s not ready after %s: %w", s.flavor, timeout, last)
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder { return s.client.B() }

// isRedisErr reports whether err is a server reply whose message contains
// substr, ignoring case.
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	return ok && strings.Contains(strings.ToLower(re.Error()), strings.ToLower(substr))
}
