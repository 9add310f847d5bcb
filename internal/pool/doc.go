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

// Package pool implements the task pool: the set of active task instances,
// partitioned into a main pool (ready or running) and a hidden pool
// (prerequisites not yet all satisfied), together with the algorithms that
// spawn, release, queue, remove, and merge task instances across multiple
// concurrent flows. It also owns the runahead governor, queue management,
// hold/stop/stall/expire logic, and restart/reload.
package pool
