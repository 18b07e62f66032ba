/*
Copyright 2016-2021 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package orchestrator

import (
	"os"
)

// daemonizeEnvVar marks a re-exec'd process as already detached, since
// Go has no fork(2); "fork after auth" is approximated by redirecting
// this process's stdin to /dev/null once the connection no longer needs
// interactive input, rather than a literal double-fork. stdout and
// stderr stay attached.
const daemonizeEnvVar = "SSHC_DAEMONIZED"

// daemonize replaces stdin with /dev/null; stdout and stderr are left
// as they are. Safe to call once; a second call is a no-op.
func daemonize() error {
	if os.Getenv(daemonizeEnvVar) == "1" {
		return nil
	}
	os.Setenv(daemonizeEnvVar, "1")

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}

	os.Stdin.Close()
	os.Stdin = devNull
	return nil
}

// shouldDaemonizeImmediately implements the fork-after-auth deferral rule: fire
// immediately unless remote forwards exist and exit_on_forward_failure
// is on, in which case the caller waits for every remote-forward
// confirm before calling this.
func shouldDaemonizeImmediately(exitOnForwardFailure bool, remoteForwardCount int) bool {
	return !exitOnForwardFailure || remoteForwardCount == 0
}
