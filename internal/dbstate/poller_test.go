// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dbstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noSleep(time.Duration) {}

func TestPoller_SucceedsImmediately(t *testing.T) {
	calls := 0
	p := NewPoller("thing happened", time.Millisecond, 5, func(ctx context.Context) (bool, error) {
		calls++
		return true, nil
	}, nil)
	p.Sleep = noSleep

	met, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, met)
	require.Equal(t, 1, calls)
}

func TestPoller_SucceedsOnLaterAttempt(t *testing.T) {
	calls := 0
	p := NewPoller("thing happened", time.Millisecond, 3, func(ctx context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	}, nil)
	p.Sleep = noSleep

	met, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, met)
	require.Equal(t, 3, calls)
}

func TestPoller_ExhaustsWithoutMatch(t *testing.T) {
	calls := 0
	p := NewPoller("thing happened", time.Millisecond, 3, func(ctx context.Context) (bool, error) {
		calls++
		return false, nil
	}, nil)
	p.Sleep = noSleep

	met, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.False(t, met)
	require.Equal(t, 3, calls)
}

func TestPoller_MaxPollsZeroIsError(t *testing.T) {
	p := NewPoller("thing happened", time.Millisecond, 0, func(ctx context.Context) (bool, error) {
		return true, nil
	}, nil)

	_, err := p.Poll(context.Background())
	require.Error(t, err)
}

func TestPoller_CheckErrorStopsImmediately(t *testing.T) {
	wantErr := errors.New("boom")
	calls := 0
	p := NewPoller("thing happened", time.Millisecond, 5, func(ctx context.Context) (bool, error) {
		calls++
		return false, wantErr
	}, nil)
	p.Sleep = noSleep

	_, err := p.Poll(context.Background())
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 1, calls)
}

func TestPoller_ContextCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := NewPoller("thing happened", time.Millisecond, 5, func(ctx context.Context) (bool, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		return false, nil
	}, nil)
	p.Sleep = noSleep

	_, err := p.Poll(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
