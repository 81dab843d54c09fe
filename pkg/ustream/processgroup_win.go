//go:build windows
// +build windows

package ustream

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
)

func configureAsProcessGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func killProcessGroup(logger zerolog.Logger, cmd *exec.Cmd) {
	kill := exec.Command("TASKKILL", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid))
	kill.Stderr = os.Stderr
	kill.Stdout = os.Stdout

	err := kill.Run()
	logger.Err(err).Msg("killing process group")
}
