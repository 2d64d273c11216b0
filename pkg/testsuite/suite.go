package testsuite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Option func(*options)

type options struct {
	kafka bool
	redis bool
}

func WithKafka() Option { return func(o *options) { o.kafka = true } }

func WithRedis() Option { return func(o *options) { o.redis = true } }

// BaseSuite starts postgres (plus kafka and redis when asked) and applies the
// service migrations once per suite.
type BaseSuite struct {
	suite.Suite
	PgContainer    *postgres.PostgresContainer
	KafkaContainer *kafka.KafkaContainer
	RedisContainer *tcredis.RedisContainer
	DbPool         *pgxpool.Pool
	Redis          *redis.Client
	KafkaBrokers   []string
	Ctx            context.Context
}

func (s *BaseSuite) SetupInfrastructure(migrationsRelPath string, opts ...Option) {
	s.Ctx = context.Background()

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var err error
	s.PgContainer, err = postgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)

	connStr, err := s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)

	if o.kafka {
		s.KafkaContainer, err = kafka.Run(
			s.Ctx,
			"confluentinc/cp-kafka:7.5.0",
			kafka.WithClusterID("test-cluster"),
		)
		s.Require().NoError(err)

		s.KafkaBrokers, err = s.KafkaContainer.Brokers(s.Ctx)
		s.Require().NoError(err)
	}

	if o.redis {
		s.RedisContainer, err = tcredis.Run(s.Ctx, "redis:7-alpine")
		s.Require().NoError(err)

		endpoint, err := s.RedisContainer.Endpoint(s.Ctx, "")
		s.Require().NoError(err)

		s.Redis = redis.NewClient(&redis.Options{Addr: endpoint})
		s.Require().NoError(s.Redis.Ping(s.Ctx).Err())
	}

	absPath, err := filepath.Abs(migrationsRelPath)
	s.Require().NoError(err)

	m, err := migrate.New("file://"+absPath, connStr)
	s.Require().NoError(err)
	s.Require().NoError(m.Up())

	s.DbPool, err = pgxpool.New(s.Ctx, connStr)
	s.Require().NoError(err)
}

func (s *BaseSuite) TearDownInfrastructure() {
	if s.DbPool != nil {
		s.DbPool.Close()
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}

	var containers []testcontainers.Container
	if s.PgContainer != nil {
		containers = append(containers, s.PgContainer)
	}
	if s.KafkaContainer != nil {
		containers = append(containers, s.KafkaContainer)
	}
	if s.RedisContainer != nil {
		containers = append(containers, s.RedisContainer)
	}

	for _, c := range containers {
		if err := testcontainers.TerminateContainer(c); err != nil {
			s.T().Logf("failed to terminate container: %v", err)
		}
	}
}

func (s *BaseSuite) TruncateTables(tableNames ...string) {
	_, err := s.DbPool.Exec(s.Ctx, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY CASCADE", strings.Join(tableNames, ", ")))
	s.Require().NoError(err)
}

// OutboxCount counts outbox rows of eventType in status.
func (s *BaseSuite) OutboxCount(eventType, status string) int {
	var n int
	err := s.DbPool.QueryRow(
		s.Ctx,
		"SELECT COUNT(*) FROM outbox_events WHERE event_type = $1 AND status = $2",
		eventType,
		status,
	).Scan(&n)
	s.Require().NoError(err)

	return n
}
