//go:build unix

package ffmpeg

import (
	"os/exec"
	"syscall"
)

// detach moves the child into its own process group so a terminal Ctrl-C
// reaches only the recorder, which then stops ffmpeg itself.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
