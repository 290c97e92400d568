package seatstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/seat-coordinator/internal/model"
)

// Each seat lives in its own hash; a per-movie set indexes the labels.
// Both keys share the {movie} hash tag so they land in one cluster slot
// and a script may touch them together.
var reserveScript = redis.NewScript(`
	local seat = KEYS[1]
	local index = KEYS[2]
	local user = ARGV[1]
	local token = ARGV[2]
	local now = ARGV[3]
	local label = ARGV[4]

	local cur = redis.call('HGET', seat, 'user_id')
	if cur and cur ~= '' then
		local tok = redis.call('HGET', seat, 'token') or ''
		return { 0, cur, tok }
	end

	if redis.call('EXISTS', seat) == 0 then
		redis.call('HSET', seat, 'created_at', now)
	end
	redis.call('HSET', seat, 'user_id', user, 'token', token, 'updated_at', now)
	redis.call('SADD', index, label)
	return { 1, user, token }
`)

// ReserveScriptSHA is the digest EVALSHA uses for the reserve script,
// e.g. to check SCRIPT EXISTS on a replica before a failover drill.
func ReserveScriptSHA() string { return reserveScript.Hash() }

var releaseScript = redis.NewScript(`
	local seat = KEYS[1]
	local user = ARGV[1]
	local now = ARGV[2]

	local cur = redis.call('HGET', seat, 'user_id')
	if not cur or cur == '' then
		return { 0, '' }
	end
	if cur ~= user then
		return { 0, cur }
	end
	redis.call('HSET', seat, 'user_id', '', 'token', '', 'updated_at', now)
	return { 1, '' }
`)

// RedisOptions tunes the redis store.
type RedisOptions struct {
	Prefix      string        // key namespace, default "rsv"
	MinReplicas int           // replicas that must acknowledge a write; 0 skips WAIT
	WaitTimeout time.Duration // upper bound for WAIT, default 500ms
}

// RedisStore implements Store with Lua scripts, which Redis runs
// atomically.  Reads and scripts must target the primary.  With
// MinReplicas > 0 every answer is held back until enough replicas have
// acknowledged the state it rests on; a shortfall is reported
// Indeterminate, since a failover could still lose that state.
type RedisStore struct {
	rdb  *redis.Client
	opts RedisOptions
	now  func() time.Time
}

// redisConn is what a single store call needs.  Both *redis.Client and
// a pinned *redis.Conn satisfy it.
type redisConn interface {
	redis.Scripter
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Wait(ctx context.Context, numSlaves int, timeout time.Duration) *redis.IntCmd
}

// NewRedisStore wraps a client.  The caller keeps ownership of rdb.
func NewRedisStore(rdb *redis.Client, opts RedisOptions) *RedisStore {
	if opts.Prefix == "" {
		opts.Prefix = "rsv"
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 500 * time.Millisecond
	}
	return &RedisStore{rdb: rdb, opts: opts, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the clock used for record timestamps.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	s.now = now
	return s
}

func (s *RedisStore) seatKey(movie, seat string) string {
	return fmt.Sprintf("%s:seat:{%s}:%s", s.opts.Prefix, movie, seat)
}

func (s *RedisStore) indexKey(movie string) string {
	return fmt.Sprintf("%s:seats:{%s}", s.opts.Prefix, movie)
}

func (s *RedisStore) fenceKey(movie string) string {
	return fmt.Sprintf("%s:fence:{%s}", s.opts.Prefix, movie)
}

// conn returns the connection for one call.  WAIT only counts writes
// made on its own connection, so with MinReplicas the call is pinned to
// one connection taken from the pool.
func (s *RedisStore) conn() (redisConn, func()) {
	if s.opts.MinReplicas <= 0 {
		return s.rdb, func() {}
	}
	c := s.rdb.Conn()
	return c, func() { _ = c.Close() }
}

func (s *RedisStore) ConditionalReserve(ctx context.Context, movie, seat, userID, token string) (Result, error) {
	conn, done := s.conn()
	defer done()

	now := strconv.FormatInt(s.now().UnixMicro(), 10)
	vals, err := reserveScript.Run(ctx, conn,
		[]string{s.seatKey(movie, seat), s.indexKey(movie)},
		userID, token, now, seat).Slice()
	if err != nil {
		return classify("redis reserve", err)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("redis reserve: unexpected reply %#v", vals)
	}
	if asInt(vals[0]) == 0 {
		return s.replicated(ctx, conn, movie, "redis reserve", occupied(asString(vals[1]), asString(vals[2])), false)
	}
	return s.replicated(ctx, conn, movie, "redis reserve", applied(), true)
}

func (s *RedisStore) ConditionalRelease(ctx context.Context, movie, seat, userID string) (Result, error) {
	conn, done := s.conn()
	defer done()

	now := strconv.FormatInt(s.now().UnixMicro(), 10)
	vals, err := releaseScript.Run(ctx, conn, []string{s.seatKey(movie, seat)}, userID, now).Slice()
	if err != nil {
		return classify("redis release", err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("redis release: unexpected reply %#v", vals)
	}
	if asInt(vals[0]) == 1 {
		return s.replicated(ctx, conn, movie, "redis release", applied(), true)
	}
	if cur := asString(vals[1]); cur != "" {
		return s.replicated(ctx, conn, movie, "redis release", notOwner(cur), false)
	}
	return s.replicated(ctx, conn, movie, "redis release", released(), false)
}

// replicated returns res once enough replicas have acknowledged the
// state it was computed from.  When conn itself wrote nothing, a fence
// write comes first: the seat state may have been written by another
// connection, and WAIT only covers this connection's writes.
func (s *RedisStore) replicated(ctx context.Context, conn redisConn, movie, op string, res Result, wrote bool) (Result, error) {
	if s.opts.MinReplicas <= 0 {
		return res, nil
	}
	if !wrote {
		if err := conn.Incr(ctx, s.fenceKey(movie)).Err(); err != nil {
			return classify(op+" fence", err)
		}
	}
	acked, err := conn.Wait(ctx, s.opts.MinReplicas, s.opts.WaitTimeout).Result()
	if err != nil {
		return classify(op+" wait", err)
	}
	if int(acked) < s.opts.MinReplicas {
		return indeterminate(fmt.Errorf("%s: %d of %d replicas acknowledged", op, acked, s.opts.MinReplicas)), nil
	}
	return res, nil
}

// LinearizableRead reads the seat hash from the primary.  With
// MinReplicas an occupied seat is only reported once the replicas hold
// it, so a reconciliation never confirms a write that WAIT refused.
func (s *RedisStore) LinearizableRead(ctx context.Context, movie, seat string) (model.SeatState, error) {
	conn, done := s.conn()
	defer done()

	h, err := conn.HGetAll(ctx, s.seatKey(movie, seat)).Result()
	if err != nil {
		return model.SeatState{}, readErr("redis read", err)
	}
	st := model.SeatState{SeatRecord: decodeSeat(movie, seat, h), Exists: len(h) > 0}
	if st.Free() {
		return st, nil
	}
	res, err := s.replicated(ctx, conn, movie, "redis read", applied(), false)
	if err != nil {
		return model.SeatState{}, err
	}
	if res.Status == Indeterminate {
		return model.SeatState{}, fmt.Errorf("redis read: %w: %v", ErrIndeterminate, res.Cause)
	}
	return st, nil
}

func (s *RedisStore) ListSeats(ctx context.Context, movie string) ([]model.SeatRecord, error) {
	labels, err := s.rdb.SMembers(ctx, s.indexKey(movie)).Result()
	if err != nil {
		return nil, readErr("redis list", err)
	}
	out := make([]model.SeatRecord, 0, len(labels))
	if len(labels) == 0 {
		return out, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(labels))
	for i, l := range labels {
		cmds[i] = pipe.HGetAll(ctx, s.seatKey(movie, l))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, readErr("redis list", err)
	}
	for i, l := range labels {
		h := cmds[i].Val()
		if len(h) == 0 {
			continue
		}
		out = append(out, decodeSeat(movie, l, h))
	}
	sortRecords(out)
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error { return s.rdb.Ping(ctx).Err() }

func (s *RedisStore) Close() error { return nil }

func decodeSeat(movie, seat string, h map[string]string) model.SeatRecord {
	return model.SeatRecord{
		MovieName: movie,
		Label:     seat,
		UserID:    h["user_id"],
		Token:     h["token"],
		CreatedAt: parseMicros(h["created_at"]),
		UpdatedAt: parseMicros(h["updated_at"]),
	}
}

func parseMicros(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.UnixMicro(n).UTC()
}

func asInt(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	}
	return 0
}

func asString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
