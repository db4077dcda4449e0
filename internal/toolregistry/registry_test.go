package toolregistry_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intrafind/ihub-apps-sub002/internal/apierror"
	"github.com/intrafind/ihub-apps-sub002/internal/config"
	"github.com/intrafind/ihub-apps-sub002/internal/toolregistry"
)

func weatherParams() config.ToolParameters {
	return config.ToolParameters{
		"type":     "object",
		"required": []any{"city"},
		"properties": map[string]any{
			"city": map[string]any{"type": "string"},
		},
	}
}

func TestLoad_ExpandsMultiFunctionToolIntoVirtualTools(t *testing.T) {
	tools := []config.Tool{
		{
			ID:      "weather",
			Enabled: true,
			Functions: map[string]config.ToolFunction{
				"current":  {Description: map[string]string{"en": "current conditions"}, Parameters: weatherParams()},
				"forecast": {Description: map[string]string{"en": "multi-day forecast"}, Parameters: weatherParams()},
			},
		},
	}
	reg := toolregistry.NewRegistry()
	require.NoError(t, reg.Load(tools, map[string]toolregistry.Handler{
		"weather": toolregistry.HandlerFunc(func(ctx context.Context, fn string, args json.RawMessage, inv toolregistry.Invocation) (any, error) {
			return fn, nil
		}),
	}))

	assert.True(t, reg.Exists("weather.current"))
	assert.True(t, reg.Exists("weather.forecast"))
	assert.False(t, reg.Exists("weather"))
}

func TestInvoke_ValidatesArgsAgainstSchema(t *testing.T) {
	tools := []config.Tool{{ID: "weather", Enabled: true, Parameters: weatherParams()}}
	reg := toolregistry.NewRegistry()
	require.NoError(t, reg.Load(tools, map[string]toolregistry.Handler{
		"weather": toolregistry.HandlerFunc(func(ctx context.Context, fn string, args json.RawMessage, inv toolregistry.Invocation) (any, error) {
			return "ok", nil
		}),
	}))

	_, err := reg.Invoke(context.Background(), "weather", json.RawMessage(`{}`), toolregistry.Invocation{})
	require.Error(t, err)
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeValidation, apiErr.Code)

	result, err := reg.Invoke(context.Background(), "weather", json.RawMessage(`{"city":"Berlin"}`), toolregistry.Invocation{})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestInvoke_UnknownToolReturnsToolError(t *testing.T) {
	reg := toolregistry.NewRegistry()
	require.NoError(t, reg.Load(nil, nil))
	_, err := reg.Invoke(context.Background(), "missing", json.RawMessage(`{}`), toolregistry.Invocation{})
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeToolError, apiErr.Code)
}

func TestInvoke_WrapsHandlerFailureAsToolError(t *testing.T) {
	tools := []config.Tool{{ID: "broken", Enabled: true}}
	reg := toolregistry.NewRegistry()
	require.NoError(t, reg.Load(tools, map[string]toolregistry.Handler{
		"broken": toolregistry.HandlerFunc(func(ctx context.Context, fn string, args json.RawMessage, inv toolregistry.Invocation) (any, error) {
			return nil, assertAnError
		}),
	}))
	_, err := reg.Invoke(context.Background(), "broken", json.RawMessage(`{}`), toolregistry.Invocation{})
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, apierror.CodeToolError, apiErr.Code)
}

var assertAnError = assertErr("boom")

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestInvoke_EnforcesConcurrencyCapByQueueing(t *testing.T) {
	tools := []config.Tool{{ID: "slow", Enabled: true, Concurrency: 1}}
	reg := toolregistry.NewRegistry()
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var concurrent int32
	var maxConcurrent int32
	require.NoError(t, reg.Load(tools, map[string]toolregistry.Handler{
		"slow": toolregistry.HandlerFunc(func(ctx context.Context, fn string, args json.RawMessage, inv toolregistry.Invocation) (any, error) {
			n := atomic.AddInt32(&concurrent, 1)
			if n > atomic.LoadInt32(&maxConcurrent) {
				atomic.StoreInt32(&maxConcurrent, n)
			}
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			atomic.AddInt32(&concurrent, -1)
			return "done", nil
		}),
	}))

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = reg.Invoke(context.Background(), "slow", json.RawMessage(`{}`), toolregistry.Invocation{})
			done <- struct{}{}
		}()
	}
	<-started
	close(release)
	<-done
	<-done
	assert.LessOrEqual(t, atomic.LoadInt32(&maxConcurrent), int32(1))
}
