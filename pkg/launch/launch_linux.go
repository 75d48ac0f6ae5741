// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package launch

import "golang.org/x/sys/unix"

// sysExec replaces the current process image. It only returns on failure.
func sysExec(bin string, argv, env []string) error {
	return unix.Exec(bin, argv, env)
}
