//go:build !linux

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

// Non-Linux platforms have no reserved-port privilege bracket to honor
// (the -P/reserved-source-port flag is Linux/BSD setuid territory); these
// brackets are no-ops so the rest of the orchestrator doesn't need a
// build-tagged call site.
package privsep

func seteuidRoot() error  { return nil }
func seteuidUser() error  { return nil }
func setreuidUser() error { return nil }
