package health

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
)

// slowThreshold marks a responsive dependency as degraded.
const slowThreshold = 100 * time.Millisecond

func result(name string, critical bool, start time.Time, err error, okMsg string) CheckResult {
	r := CheckResult{Component: name, Critical: critical, Duration: time.Since(start)}
	switch {
	case err != nil:
		r.Status = StatusUnhealthy
		r.Error = err.Error()
		r.Message = name + " check failed"
	case r.Duration > slowThreshold:
		r.Status = StatusDegraded
		r.Message = name + " responding with high latency"
	default:
		r.Status = StatusHealthy
		r.Message = okMsg
	}
	return r
}

// RedisChecker pings the state and event-mirror Redis.
type RedisChecker struct {
	Client   redis.UniversalClient
	Critical bool
}

func (r RedisChecker) Name() string     { return "redis" }
func (r RedisChecker) IsCritical() bool { return r.Critical }

func (r RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	return result(r.Name(), r.Critical, start, r.Client.Ping(ctx).Err(), "Redis healthy")
}

// Pinger is satisfied by *sql.DB and *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// DatabaseChecker pings the run store database.
type DatabaseChecker struct {
	DB       Pinger
	Critical bool
}

func (d DatabaseChecker) Name() string     { return "database" }
func (d DatabaseChecker) IsCritical() bool { return d.Critical }

func (d DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	return result(d.Name(), d.Critical, start, d.DB.PingContext(ctx), "Database healthy")
}

// TemporalChecker asks the Temporal frontend for its health.
type TemporalChecker struct {
	Client client.Client
}

func (t TemporalChecker) Name() string     { return "temporal" }
func (t TemporalChecker) IsCritical() bool { return true }

func (t TemporalChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	_, err := t.Client.CheckHealth(ctx, &client.CheckHealthRequest{})
	return result(t.Name(), true, start, err, "Temporal healthy")
}

// FuncChecker adapts a function to Checker.
type FuncChecker struct {
	CheckName string
	Critical  bool
	Fn        func(ctx context.Context) error
}

func (f FuncChecker) Name() string     { return f.CheckName }
func (f FuncChecker) IsCritical() bool { return f.Critical }

func (f FuncChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	return result(f.CheckName, f.Critical, start, f.Fn(ctx), f.CheckName+" healthy")
}
