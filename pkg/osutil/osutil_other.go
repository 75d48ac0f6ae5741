// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build !linux

package osutil

import "os/exec"

func setPdeathsig(cmd *exec.Cmd) {
}
