// Copyright 2026 hongg project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build !linux

package launch

import "fmt"

func sysExec(bin string, argv, env []string) error {
	return fmt.Errorf("process replacement is not supported on this platform")
}
