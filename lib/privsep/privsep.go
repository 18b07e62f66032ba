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

// Package privsep implements the scoped elevation brackets a setuid-root
// client uses to bind a reserved source port and then drop privilege
// permanently before touching any identity or known-hosts file.
package privsep

import "github.com/gravitational/trace"

// Dropped reports whether DropPermanently has already run; once true, a
// second Elevate call is refused rather than silently re-acquiring root.
var dropped bool

// Elevate briefly re-acquires the saved-root identity, runs fn, then
// restores the unprivileged effective id. Failures to restore are fatal:
// an elevation bracket that can't release is a security bug, not a
// retryable error.
func Elevate(fn func() error) error {
	if dropped {
		return trace.BadParameter("privsep: cannot elevate after permanent drop")
	}
	if err := seteuidRoot(); err != nil {
		return trace.Wrap(err, "privsep: elevate failed")
	}
	fnErr := fn()
	if err := seteuidUser(); err != nil {
		panic(trace.Wrap(err, "privsep: failed to release elevated privilege"))
	}
	return trace.Wrap(fnErr)
}

// DropPermanently sets both the real and effective ids to the unprivileged
// user irrevocably. Called once, after the transport is established and
// any privileged port bind has completed, before any identity file or
// known-hosts file is read.
func DropPermanently() error {
	if dropped {
		return nil
	}
	if err := setreuidUser(); err != nil {
		return trace.Wrap(err, "privsep: permanent drop failed")
	}
	dropped = true
	return nil
}

// Dropped reports whether privileges have already been permanently
// released.
func Dropped() bool {
	return dropped
}
