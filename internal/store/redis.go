package store

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/tymbalhq/tymbal/internal/agent"
)

const redisKeyPrefix = "tymbal:agent:"

// RedisFinalizer writes finalized agent state to Redis, one JSON blob per
// agent, where the external history store picks it up.
type RedisFinalizer struct {
	client redis.UniversalClient
	ctx    context.Context
}

// NewRedisFinalizer connects to the given Redis URL and verifies the
// connection with a ping.
func NewRedisFinalizer(addr string) (*RedisFinalizer, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	rf := &RedisFinalizer{client: c, ctx: context.Background()}
	if err := c.Ping(rf.ctx).Err(); err != nil {
		return nil, err
	}
	return rf, nil
}

// Finalize stores the final state under tymbal:agent:<id>.
func (r *RedisFinalizer) Finalize(id agent.ID, final agent.State) error {
	b, err := json.Marshal(final)
	if err != nil {
		return err
	}
	return r.client.Set(r.ctx, redisKeyPrefix+id.String(), b, 0).Err()
}

// Load reads back a finalized state, mainly for operators and tests.
func (r *RedisFinalizer) Load(id agent.ID) (agent.State, error) {
	b, err := r.client.Get(r.ctx, redisKeyPrefix+id.String()).Bytes()
	if err != nil {
		return agent.State{}, err
	}
	var st agent.State
	if err := json.Unmarshal(b, &st); err != nil {
		return agent.State{}, err
	}
	return st, nil
}

// parseRedisURL parses addr into UniversalOptions supporting single, cluster,
// and sentinel Redis deployments. If no scheme is present, addr is treated as
// a plain host:port string.
func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}

	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}

	opts := &redis.UniversalOptions{}
	if u.User != nil {
		opts.Username = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			opts.Password = pw
		}
	}
	opts.Addrs = strings.Split(u.Host, ",")

	q := u.Query()
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	switch u.Scheme {
	case "redis", "rediss":
		if u.Path != "" && u.Path != "/" {
			if db, err := strconv.Atoi(strings.TrimPrefix(u.Path, "/")); err == nil {
				opts.DB = db
			} else {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
		} else if dbStr := q.Get("db"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				opts.DB = db
			} else {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
		}
		if u.Scheme == "rediss" {
			opts.TLSConfig = tlsCfg
		}
	case "redis-sentinel", "rediss-sentinel":
		opts.MasterName = strings.TrimPrefix(u.Path, "/")
		if dbStr := q.Get("db"); dbStr != "" {
			if db, err := strconv.Atoi(dbStr); err == nil {
				opts.DB = db
			} else {
				return nil, fmt.Errorf("redis: invalid db: %v", err)
			}
		}
		if v := q.Get("sentinel_username"); v != "" {
			opts.SentinelUsername = v
		}
		if v := q.Get("sentinel_password"); v != "" {
			opts.SentinelPassword = v
		}
		if u.Scheme == "rediss-sentinel" {
			opts.TLSConfig = tlsCfg
		}
	default:
		return nil, fmt.Errorf("redis: invalid URL scheme: %s", u.Scheme)
	}

	return opts, nil
}
