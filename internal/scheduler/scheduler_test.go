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

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cylc/cylc-scheduler/internal/config"
	"github.com/cylc/cylc-scheduler/internal/db"
	"github.com/cylc/cylc-scheduler/internal/flow"
	"github.com/cylc/cylc-scheduler/internal/pool"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	mgr, err := db.NewManager(context.Background(), t.TempDir(), false, nil)
	require.NoError(t, err)

	cfg := config.New()
	flowMgr := flow.NewMgr(mgr, false, nil)
	p := pool.New(cfg, mgr, flowMgr, nil)

	s := New(p, nil, nil)
	s.SweepEvery = 5 * time.Millisecond
	return s
}

func TestScheduler_StopsOnContextCancel(t *testing.T) {
	s := newTestScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestScheduler_SubmitDrainsBeforeStop(t *testing.T) {
	s := newTestScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	ran := false
	s.Submit(func(p *pool.Pool) error {
		ran = true
		close(done)
		return nil
	})

	go func() {
		s.Run(ctx)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("submitted command never ran")
	}
	cancel()
	require.True(t, ran)
}

func TestScheduler_RequestStopHonoursCanStop(t *testing.T) {
	s := newTestScheduler(t)
	s.RequestStop(pool.StopModeClean)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// An empty pool can always stop cleanly (no active tasks, no stop-task
	// condition configured), so Run should return nil promptly rather than
	// waiting for the context timeout.
	err := s.Run(ctx)
	require.NoError(t, err)
}
