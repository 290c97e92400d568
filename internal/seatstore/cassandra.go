package seatstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/iliyamo/seat-coordinator/internal/model"
)

// CassandraConfig describes the cluster and the levels used for
// lightweight transactions.
type CassandraConfig struct {
	Hosts             []string
	Keyspace          string
	LocalDC           string
	Consistency       string // commit level of LWTs, QUORUM or LOCAL_QUORUM
	Serial            string // paxos level, SERIAL or LOCAL_SERIAL
	ReplicationFactor int
	Timeout           time.Duration
}

const (
	cqlInsert = `INSERT INTO reservations (movie_name, seat, user_id, token, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?) IF NOT EXISTS`
	cqlClaim = `UPDATE reservations SET user_id = ?, token = ?, updated_at = ?
WHERE movie_name = ? AND seat = ? IF user_id = null`
	cqlRelease = `UPDATE reservations SET user_id = null, token = null, updated_at = ?
WHERE movie_name = ? AND seat = ? IF user_id = ?`
	cqlRead = `SELECT user_id, token, created_at, updated_at FROM reservations
WHERE movie_name = ? AND seat = ?`
	cqlList = `SELECT seat, user_id, token, created_at, updated_at FROM reservations
WHERE movie_name = ?`
	cqlTable = `CREATE TABLE IF NOT EXISTS reservations (
	movie_name text,
	seat       text,
	user_id    uuid,
	token      text,
	created_at timestamp,
	updated_at timestamp,
	PRIMARY KEY ((movie_name), seat)
)`
)

// CassandraStore implements Store with lightweight transactions.  A seat
// row is first created with IF NOT EXISTS so created_at survives later
// cancel and re-reserve cycles; a free existing row is claimed with
// IF user_id = null.
type CassandraStore struct {
	session *gocql.Session
	serial  gocql.SerialConsistency
	cas     casFunc
}

// casFunc runs one lightweight transaction.  It reports whether the
// condition held and fills prev with the row seen when it did not.
type casFunc func(ctx context.Context, stmt string, prev map[string]interface{}, args ...interface{}) (bool, error)

func sessionCAS(session *gocql.Session) casFunc {
	return func(ctx context.Context, stmt string, prev map[string]interface{}, args ...interface{}) (bool, error) {
		return session.Query(stmt, args...).WithContext(ctx).MapScanCAS(prev)
	}
}

// NewCassandraStore connects to the cluster using a token-aware,
// DC-aware host policy.
func NewCassandraStore(cfg CassandraConfig) (*CassandraStore, error) {
	cluster, serial, err := newCluster(cfg)
	if err != nil {
		return nil, err
	}
	cluster.Keyspace = cfg.Keyspace
	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cassandra connect: %w", err)
	}
	return &CassandraStore{session: session, serial: serial, cas: sessionCAS(session)}, nil
}

// MigrateCassandra creates the keyspace and the reservations table.
func MigrateCassandra(ctx context.Context, cfg CassandraConfig) error {
	cluster, _, err := newCluster(cfg)
	if err != nil {
		return err
	}
	session, err := cluster.CreateSession()
	if err != nil {
		return fmt.Errorf("cassandra connect: %w", err)
	}
	defer session.Close()

	rf := cfg.ReplicationFactor
	if rf < 1 {
		rf = 3
	}
	ks := fmt.Sprintf(`CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'NetworkTopologyStrategy', '%s': %d}`,
		cfg.Keyspace, cfg.LocalDC, rf)
	if err := session.Query(ks).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create keyspace: %w", err)
	}
	if err := session.Query(fmt.Sprintf("USE %s", cfg.Keyspace)).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("use keyspace: %w", err)
	}
	if err := session.Query(cqlTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func newCluster(cfg CassandraConfig) (*gocql.ClusterConfig, gocql.SerialConsistency, error) {
	if len(cfg.Hosts) == 0 {
		return nil, 0, fmt.Errorf("cassandra: no hosts configured")
	}
	cons, err := parseConsistency(cfg.Consistency)
	if err != nil {
		return nil, 0, err
	}
	serial, err := parseSerial(cfg.Serial)
	if err != nil {
		return nil, 0, err
	}
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Consistency = cons
	cluster.SerialConsistency = serial
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	if cfg.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(cfg.LocalDC))
	}
	// Paxos rounds must not be retried blindly by the driver; the
	// coordinator reconciles instead.
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 0}
	return cluster, serial, nil
}

// parseConsistency only admits levels that make LWT commits durable on a
// majority of replicas.
func parseConsistency(s string) (gocql.Consistency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "QUORUM":
		return gocql.Quorum, nil
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum, nil
	case "EACH_QUORUM":
		return gocql.EachQuorum, nil
	case "ALL":
		return gocql.All, nil
	}
	return 0, fmt.Errorf("cassandra: consistency %q cannot back conditional writes", s)
}

func parseSerial(s string) (gocql.SerialConsistency, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "SERIAL":
		return gocql.Serial, nil
	case "LOCAL_SERIAL":
		return gocql.LocalSerial, nil
	}
	return 0, fmt.Errorf("cassandra: serial consistency %q unknown", s)
}

func (s *CassandraStore) ConditionalReserve(ctx context.Context, movie, seat, userID, token string) (Result, error) {
	now := time.Now().UTC()
	prev := map[string]interface{}{}
	ok, err := s.cas(ctx, cqlInsert, prev, movie, seat, userID, token, now, now)
	if err != nil {
		return classify("cassandra reserve", err)
	}
	if res, done := insertOutcome(ok, prev); done {
		return res, nil
	}

	prev = map[string]interface{}{}
	ok, err = s.cas(ctx, cqlClaim, prev, userID, token, now, movie, seat)
	if err != nil {
		return classify("cassandra claim", err)
	}
	return claimOutcome(ok, prev), nil
}

// insertOutcome interprets IF NOT EXISTS.  done is false when the row
// exists but is free, which leaves the claim step to decide.
func insertOutcome(ok bool, prev map[string]interface{}) (Result, bool) {
	if ok {
		return applied(), true
	}
	if cur := cqlString(prev["user_id"]); cur != "" {
		return occupied(cur, cqlString(prev["token"])), true
	}
	return Result{}, false
}

// claimOutcome interprets IF user_id = null.  The condition result only
// carries user_id, so the holder's token is unknown.
func claimOutcome(ok bool, prev map[string]interface{}) Result {
	if ok {
		return applied()
	}
	return occupied(cqlString(prev["user_id"]), "")
}

func (s *CassandraStore) ConditionalRelease(ctx context.Context, movie, seat, userID string) (Result, error) {
	prev := map[string]interface{}{}
	ok, err := s.cas(ctx, cqlRelease, prev, time.Now().UTC(), movie, seat, userID)
	if err != nil {
		return classify("cassandra release", err)
	}
	return releaseOutcome(ok, prev), nil
}

// releaseOutcome interprets IF user_id = ?.
func releaseOutcome(ok bool, prev map[string]interface{}) Result {
	if ok {
		return applied()
	}
	if cur := cqlString(prev["user_id"]); cur != "" {
		return notOwner(cur)
	}
	return released()
}

// LinearizableRead reads at the serial level, which completes any paxos
// round left in flight by an earlier timed-out write.
func (s *CassandraStore) LinearizableRead(ctx context.Context, movie, seat string) (model.SeatState, error) {
	st := model.SeatState{SeatRecord: model.SeatRecord{MovieName: movie, Label: seat}}
	var user, token *string
	err := s.session.Query(cqlRead, movie, seat).
		WithContext(ctx).
		Consistency(gocql.Consistency(s.serial)).
		Scan(&user, &token, &st.CreatedAt, &st.UpdatedAt)
	if err == gocql.ErrNotFound {
		return st, nil
	}
	if err != nil {
		return model.SeatState{}, readErr("cassandra read", err)
	}
	st.Exists = true
	st.UserID, st.Token = deref(user), deref(token)
	return st, nil
}

func (s *CassandraStore) ListSeats(ctx context.Context, movie string) ([]model.SeatRecord, error) {
	iter := s.session.Query(cqlList, movie).WithContext(ctx).Iter()
	out := make([]model.SeatRecord, 0)
	var (
		label       string
		user, token *string
		created     time.Time
		updated     time.Time
	)
	for iter.Scan(&label, &user, &token, &created, &updated) {
		out = append(out, model.SeatRecord{
			MovieName: movie, Label: label, UserID: deref(user), Token: deref(token),
			CreatedAt: created, UpdatedAt: updated,
		})
		user, token = nil, nil
	}
	if err := iter.Close(); err != nil {
		return nil, readErr("cassandra list", err)
	}
	sortRecords(out)
	return out, nil
}

func (s *CassandraStore) Ping(ctx context.Context) error {
	return s.session.Query("SELECT release_version FROM system.local").WithContext(ctx).Exec()
}

func (s *CassandraStore) Close() error {
	s.session.Close()
	return nil
}

// cqlString renders a value returned by MapScanCAS.
func cqlString(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *string:
		return deref(x)
	case gocql.UUID:
		if x == (gocql.UUID{}) {
			return ""
		}
		return x.String()
	case []byte:
		return string(x)
	}
	return fmt.Sprint(v)
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
