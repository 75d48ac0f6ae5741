// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package osutil

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setPdeathsig ensures that child processes do not outlive a killed tool.
// A wedged target or engine left behind would keep the workspace locked.
func setPdeathsig(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Pdeathsig = unix.SIGKILL
}
