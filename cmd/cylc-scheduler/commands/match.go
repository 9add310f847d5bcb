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

package commands

import (
	"github.com/cylc/cylc-scheduler/internal/ids"
	"github.com/cylc/cylc-scheduler/internal/pool"
)

// matchTasks parses each raw identifier in idArgs (allowing "//cycle/task"
// relative continuations off the previous one, per spec.md §6's grammar)
// and returns every already-in-pool task whose (cycle, name) matches,
// literally or via glob. Unmatched patterns are silently skipped — the
// caller logs the distinction between "no tasks matched" and "some did".
func matchTasks(p *pool.Pool, idArgs []string) ([]*pool.Proxy, error) {
	var out []*pool.Proxy
	var prev ids.Tokens
	for _, raw := range idArgs {
		tok, err := ids.ParseOne(raw, &prev)
		if err != nil {
			return nil, err
		}
		prev = tok

		for _, t := range p.AllTasks() {
			name := t.Def.Name()
			point := t.Point.String()

			nameOK := tok.Task == ""
			if !nameOK {
				nameOK, err = ids.Match(tok.Task, name)
				if err != nil {
					return nil, err
				}
			}
			pointOK := tok.Cycle == ""
			if !pointOK {
				pointOK, err = ids.Match(tok.Cycle, point)
				if err != nil {
					return nil, err
				}
			}
			if nameOK && pointOK {
				out = append(out, t)
			}
		}
	}
	return out, nil
}
