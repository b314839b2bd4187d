package scylla

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/gocql/gocql"

	"findit/internal/infra/config"
)

var keyspacePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// NewSession ensures schema exists and returns a connected Scylla session.
func NewSession(ctx context.Context, cfg config.ScyllaConfig, logger *slog.Logger) (*gocql.Session, error) {
	if !keyspacePattern.MatchString(cfg.Keyspace) {
		return nil, fmt.Errorf("invalid keyspace name: %q", cfg.Keyspace)
	}
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("scylla hosts are required")
	}

	baseSession, err := newCluster(cfg, "").CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to scylla: %w", err)
	}
	defer baseSession.Close()

	if err := baseSession.Query(keyspaceStatement(cfg)).WithContext(ctx).Exec(); err != nil {
		return nil, fmt.Errorf("create keyspace: %w", err)
	}

	session, err := newCluster(cfg, cfg.Keyspace).CreateSession()
	if err != nil {
		return nil, fmt.Errorf("connect to keyspace %s: %w", cfg.Keyspace, err)
	}
	for _, stmt := range tableStatements(cfg.Keyspace) {
		if err := session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			session.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	if logger != nil {
		logger.Info("scylla connected", "hosts", cfg.Hosts, "keyspace", cfg.Keyspace)
	}
	return session, nil
}

func newCluster(cfg config.ScyllaConfig, keyspace string) *gocql.ClusterConfig {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = cfg.Consistency
	cluster.SerialConsistency = gocql.LocalSerial
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
		cluster.ConnectTimeout = cfg.Timeout
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	return cluster
}

func keyspaceStatement(cfg config.ScyllaConfig) string {
	rf := cfg.ReplicationFactor
	if rf < 1 {
		rf = 1
	}
	return fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d}",
		cfg.Keyspace, rf,
	)
}

// tableStatements describes the chat schema. conversations_by_pair and message_tokens
// are written with IF NOT EXISTS and carry the uniqueness rules.
func tableStatements(keyspace string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conversations (
	id text PRIMARY KEY,
	listing_id text,
	participants list<text>,
	last_message text,
	last_message_at timestamp,
	last_seq bigint,
	message_seq bigint,
	message_clock timestamp,
	created_at timestamp,
	updated_at timestamp
)`, keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conversations_by_pair (
	listing_id text,
	participant_key text,
	conversation_id text,
	PRIMARY KEY ((listing_id, participant_key))
)`, keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.conversations_by_user (
	user_id text,
	conversation_id text,
	PRIMARY KEY (user_id, conversation_id)
)`, keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.messages (
	conversation_id text,
	seq bigint,
	id text,
	sender_id text,
	text text,
	client_id text,
	created_at timestamp,
	PRIMARY KEY (conversation_id, seq)
) WITH CLUSTERING ORDER BY (seq ASC)`, keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.message_tokens (
	conversation_id text,
	sender_id text,
	client_id text,
	message_id text,
	seq bigint,
	text text,
	created_at timestamp,
	PRIMARY KEY ((conversation_id, sender_id, client_id))
)`, keyspace),
	}
}
