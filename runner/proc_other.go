//go:build !unix

package runner

import "os/exec"

func configureProcess(cmd *exec.Cmd) {}

func killGroup(cmd *exec.Cmd) {}
