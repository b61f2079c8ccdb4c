package health

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type countingChecker struct {
	calls   int
	healthy bool
}

func (c *countingChecker) Check(context.Context) CheckResult {
	c.calls++
	return CheckResult{Name: "fake", Healthy: c.healthy}
}

func TestProbeRunnerReadyRequiresAllHealthy(t *testing.T) {
	up := &countingChecker{healthy: true}
	down := &countingChecker{}

	ready, results := NewProbeRunner(time.Second, 0, up, down).Ready(context.Background())
	if ready || len(results) != 2 {
		t.Fatalf("expected unready with two results, got ready=%v results=%+v", ready, results)
	}
	if ready, _ = NewProbeRunner(time.Second, 0, up).Ready(context.Background()); !ready {
		t.Fatal("expected ready with one healthy checker")
	}
}

func TestProbeRunnerCachesWithinTTL(t *testing.T) {
	c := &countingChecker{healthy: true}
	p := NewProbeRunner(time.Second, time.Hour, c)
	p.Ready(context.Background())
	p.Ready(context.Background())
	if c.calls != 1 {
		t.Fatalf("expected cached result, checker ran %d times", c.calls)
	}
}

func TestDBAndRedisCheckers(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:health?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if res := NewDBChecker(db).Check(context.Background()); !res.Healthy || res.Name != "db" {
		t.Fatalf("unexpected db result %+v", res)
	}

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if res := NewRedisChecker(client).Check(context.Background()); !res.Healthy {
		t.Fatalf("unexpected redis result %+v", res)
	}
	server.Close()
	if res := NewRedisChecker(client).Check(context.Background()); res.Healthy || res.Error == "" {
		t.Fatalf("expected redis failure after close, got %+v", res)
	}
}
