//go:build !unix

package downloader

import "os/exec"

// configureProcessGroup keeps the default cancel behaviour (kill the
// direct child) where process groups are unavailable.
func configureProcessGroup(cmd *exec.Cmd) {}
