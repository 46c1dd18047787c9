package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nidhogg/relay/internal/agent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"
)

// startRedis starts a Redis testcontainer and returns its URL. The test is
// skipped when Docker is unavailable.
func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container in short mode")
	}
	ctx := context.Background()

	var (
		container *tcredis.RedisContainer
		err       error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("docker unavailable: %v", r)
			}
		}()
		container, err = tcredis.Run(ctx, "redis:7-alpine")
	}()
	if err != nil {
		t.Skipf("start redis: %v", err)
	}
	testcontainers.CleanupContainer(t, container)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)
	return "redis://" + endpoint
}

func TestEventBusStreamsRun(t *testing.T) {
	url := startRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	bus, err := NewEventBus(ctx, url, zap.NewNop())
	require.NoError(t, err)
	defer bus.Close()

	a := &stubMember{name: "A", respond: func(context.Context, int, agent.Request) (string, error) {
		return "done TERMINATE", nil
	}}
	o, err := New([]Member{a}, nil, Options{}, zap.NewNop())
	require.NoError(t, err)
	o.Observe(bus)

	res, err := o.Run(ctx, "hello")
	require.NoError(t, err)

	var got []Event
	for ev := range bus.Subscribe(ctx, res.RunID) {
		got = append(got, ev)
	}
	require.NotEmpty(t, got)

	last := got[len(got)-1]
	assert.Equal(t, EventState, last.Type)
	assert.Equal(t, StateTerminated, last.From)
	assert.Equal(t, StateIdle, last.State)

	known, err := bus.Known(ctx, res.RunID)
	require.NoError(t, err)
	assert.True(t, known)
	known, err = bus.Known(ctx, "no-such-run")
	require.NoError(t, err)
	assert.False(t, known)

	var contents []string
	for _, ev := range got {
		assert.Equal(t, res.RunID, ev.RunID)
		if ev.Type == EventMessage {
			contents = append(contents, ev.Message.Content)
		}
	}
	assert.Equal(t, []string{"hello", "done TERMINATE"}, contents)
}

func TestNewEventBusRejectsBadURL(t *testing.T) {
	_, err := NewEventBus(context.Background(), "not a url", zap.NewNop())
	assert.Error(t, err)
}
