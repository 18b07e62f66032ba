//go:build linux

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

package privsep

import (
	"os"
	"syscall"

	"github.com/gravitational/trace"
)

var unprivilegedUID, unprivilegedGID = os.Getuid(), os.Getgid()

func seteuidRoot() error {
	return trace.ConvertSystemError(syscall.Seteuid(0))
}

func seteuidUser() error {
	return trace.ConvertSystemError(syscall.Seteuid(unprivilegedUID))
}

func setreuidUser() error {
	if err := syscall.Setregid(unprivilegedGID, unprivilegedGID); err != nil {
		return trace.ConvertSystemError(err)
	}
	return trace.ConvertSystemError(syscall.Setreuid(unprivilegedUID, unprivilegedUID))
}
