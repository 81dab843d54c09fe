//go:build !windows
// +build !windows

package ustream

import (
	"os/exec"
	"syscall"

	"github.com/rs/zerolog"
)

func configureAsProcessGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(logger zerolog.Logger, cmd *exec.Cmd) {
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err == nil {
		err := syscall.Kill(-pgid, syscall.SIGKILL)
		logger.Err(err).Msg("killing process group")
		return
	}

	logger.Err(err).Msg("could not get process group id")
	err = cmd.Process.Kill()
	logger.Err(err).Msg("killing process")
}
