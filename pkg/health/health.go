package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

const checkTimeout = 5 * time.Second

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

type Checker interface {
	Check(ctx context.Context) error
	Name() string
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
}

type CheckerRegistry struct {
	checkers []Checker
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(checker Checker) {
	r.checkers = append(r.checkers, checker)
}

// Check runs every registered checker. One unhealthy dependency marks
// the whole service unhealthy.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	overall := StatusHealthy
	results := make(map[string]CheckResult, len(r.checkers))

	for _, checker := range r.checkers {
		start := time.Now()
		err := checker.Check(ctx)

		result := CheckResult{
			Status:    StatusHealthy,
			Latency:   time.Since(start) / time.Millisecond,
			Timestamp: time.Now(),
		}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Message = err.Error()
			overall = StatusUnhealthy
		}

		results[checker.Name()] = result
	}

	return Health{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

// pingChecker adapts a datastore ping function to the Checker
// interface; every store health check is a bounded ping.
type pingChecker struct {
	name string
	ping func(ctx context.Context) error
}

func (c *pingChecker) Name() string { return c.name }

func (c *pingChecker) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := c.ping(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", c.name, err)
	}
	return nil
}

func NewPostgreSQLChecker(db *sql.DB) Checker {
	return &pingChecker{
		name: "postgresql",
		ping: db.PingContext,
	}
}

func NewRedisChecker(client *redis.Client) Checker {
	return &pingChecker{
		name: "redis",
		ping: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

func NewMongoDBChecker(client *mongo.Client) Checker {
	return &pingChecker{
		name: "mongodb",
		ping: func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		},
	}
}
