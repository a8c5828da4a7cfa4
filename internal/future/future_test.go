package future

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Iron-Ham/appharness/internal/errors"
	"github.com/Iron-Ham/appharness/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_FirstResolutionWins(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Output: &buf})
	require.NoError(t, err)

	f := New[bool]("isRunning", logger)
	assert.True(t, f.Resolve(true))
	assert.False(t, f.Resolve(false))
	assert.False(t, f.Reject(errors.ErrClosed))

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.True(t, v)
	assert.Contains(t, buf.String(), "ignoring late resolution")
	assert.Contains(t, buf.String(), errors.ErrDoubleResolution.Error())
}

func TestFuture_ConcurrentResolution(t *testing.T) {
	f := New[int]("race", nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := range 50 {
		wg.Go(func() {
			if f.Resolve(i) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.True(t, f.Resolved())
}

func TestFuture_AwaitCanceled(t *testing.T) {
	f := New[string]("slow", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, f.Resolved())

	// A late outcome is still recorded for other waiters.
	assert.True(t, f.Resolve("late"))
	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "late", v)
}

func TestFromCallbacks(t *testing.T) {
	call := Call{Method: "isRunning", UUID: "openfin-tests"}

	tests := []struct {
		name    string
		invoke  Invoker
		want    bool
		wantErr bool
		payload string
	}{
		{
			name: "success",
			invoke: func(onSuccess, onFailure Callback) {
				onSuccess(json.RawMessage(`{"success":true,"data":true}`))
			},
			want: true,
		},
		{
			name: "failure carries payload",
			invoke: func(onSuccess, onFailure Callback) {
				onFailure(json.RawMessage(`{"success":false,"reason":"no such app"}`))
			},
			wantErr: true,
			payload: `{"success":false,"reason":"no such app"}`,
		},
		{
			name: "success then failure keeps success",
			invoke: func(onSuccess, onFailure Callback) {
				onSuccess(json.RawMessage(`{"data":false}`))
				onFailure(json.RawMessage(`{"reason":"late"}`))
			},
			want: false,
		},
		{
			name: "asynchronous callback",
			invoke: func(onSuccess, onFailure Callback) {
				go func() {
					time.Sleep(5 * time.Millisecond)
					onSuccess(json.RawMessage(`{"data":true}`))
				}()
			},
			want: true,
		},
		{
			name: "undecodable data",
			invoke: func(onSuccess, onFailure Callback) {
				onSuccess(json.RawMessage(`{"data":"yes"}`))
			},
			wantErr: true,
			payload: `{"data":"yes"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := FromCallbacks(call, tt.invoke, AckData[bool], nil)
			got, err := f.Await(context.Background())
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrRPCFailure)
			var rpcErr *errors.RPCError
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, "isRunning", rpcErr.Method)
			assert.Equal(t, "openfin-tests", rpcErr.UUID)
			assert.JSONEq(t, tt.payload, string(rpcErr.Payload))
		})
	}
}

func TestAckData_MissingData(t *testing.T) {
	_, err := AckData[bool](json.RawMessage(`{"success":true}`))
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = AckData[bool](json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestJSON(t *testing.T) {
	type proc struct {
		Name string `json:"name"`
	}
	got, err := JSON[[]proc](json.RawMessage(`[{"name":"openfin"},{"name":"helper"}]`))
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "helper", got[1].Name)
}
