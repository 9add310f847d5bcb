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

/*
Package lifecycle manages scheduler daemon process lifecycle operations.

This package provides secure PID file management and process validation for
the cylc-scheduler daemon. The "stop" / "stop --now" / "stop --now --now"
commands send SIGTERM once, twice or three times and then wait for the
scheduler to exit on its own; GracefulShutdown offers a SIGTERM, wait, then
SIGKILL sequence for callers that need a forced kill.

# PID File Management

PID files are security-sensitive as they control which process receives
shutdown signals. The package uses exclusive file locking (flock) and
atomic creation (O_EXCL) to prevent race conditions and symlink attacks:

	manager := lifecycle.NewPIDFileManager("/path/to/run/.service/scheduler.pid")
	if err := manager.Create(1234); err != nil {
	    // Handle error
	}
	defer manager.Remove()

# Process Operations

Process validation ensures signals are sent only to scheduler processes,
preventing accidental kills of unrelated processes that happen to reuse a
stale PID:

	pid, err := manager.Read()
	if err != nil {
	    // Handle error
	}

	if !lifecycle.IsSchedulerProcess(pid) {
	    // PID file is stale or corrupted
	}

	if err := lifecycle.GracefulShutdown(pid, 30*time.Second, true); err != nil {
	    // Handle error
	}
*/
package lifecycle
