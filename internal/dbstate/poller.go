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
	"fmt"
	"log/slog"
	"time"

	cylcerrors "github.com/cylc/cylc-scheduler/internal/errors"
)

// CheckFunc tests a Poller's condition, returning true once it is met.
// Grounded on command_polling.py's abstract Poller.check().
type CheckFunc func(ctx context.Context) (bool, error)

// Poller runs CheckFunc up to MaxPolls times, waiting Interval between
// attempts, per spec.md §4.6's Poller and §9's "bounded loop with explicit
// sleeps" design note. Grounded on command_polling.py's Poller class.
type Poller struct {
	// Condition names what is being waited for, used only in log messages
	// (e.g. "task succeeded").
	Condition string
	Interval  time.Duration
	MaxPolls  int
	Check     CheckFunc

	// Sleep is overridable for tests; defaults to time.Sleep.
	Sleep func(time.Duration)

	Log *slog.Logger

	nPolls int
}

// NewPoller builds a Poller. MaxPolls == 0 is rejected immediately by Poll
// (nothing to do); it is accepted here so callers can validate CLI flags
// before constructing.
func NewPoller(condition string, interval time.Duration, maxPolls int, check CheckFunc, log *slog.Logger) *Poller {
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		Condition: condition,
		Interval:  interval,
		MaxPolls:  maxPolls,
		Check:     check,
		Sleep:     time.Sleep,
		Log:       log,
	}
}

// Poll runs the bounded poll loop, returning true if Check ever returned
// true within MaxPolls attempts, false if polling was exhausted.
// MaxPolls == 0 is an error ("nothing to do"); MaxPolls == 1 degrades to a
// single one-shot check, matching spec.md §4.6 exactly.
func (p *Poller) Poll(ctx context.Context) (bool, error) {
	if p.MaxPolls == 0 {
		return false, &cylcerrors.InputError{
			What:   "--max-polls",
			Reason: "nothing to do (--max-polls=0)",
		}
	}

	if p.MaxPolls == 1 {
		p.Log.Debug(fmt.Sprintf("checking for %s", p.Condition))
	} else {
		p.Log.Debug(fmt.Sprintf("polling (max %d x %s) for %s", p.MaxPolls, p.Interval, p.Condition))
	}

	for p.nPolls < p.MaxPolls {
		if p.nPolls > 0 {
			p.Log.Debug("poll attempt", "n", p.nPolls+1, "condition", p.Condition)
		}
		p.nPolls++

		met, err := p.Check(ctx)
		if err != nil {
			return false, err
		}
		if met {
			return true, nil
		}

		if p.nPolls < p.MaxPolls {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			default:
			}
			p.Sleep(p.Interval)
		}
	}

	msg := "condition not satisfied"
	if p.MaxPolls > 1 {
		msg = fmt.Sprintf("%s after %d polls", msg, p.MaxPolls)
	}
	p.Log.Warn(msg, "condition", p.Condition)
	return false, nil
}
