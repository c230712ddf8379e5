// Package exec wraps os/exec to run the installer's external tools
// (mkfs, fsck, ntfsresize, the EFI boot-entry manager, the partition-
// table reread helper), grounded on original_source/installer/util.c's
// execute_command and execute_command_data: child processes inherit
// the installer's controlling terminal and block the caller until they
// exit, and their exit status is the success signal (spec §5).
package exec

import (
	"bytes"
	"context"
	"os"
	"os/exec"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Result carries a completed command's exit status and any captured
// output.
type Result struct {
	ExitCode int
	Stdout   string
}

// Run executes name with args, inheriting stdin/stdout/stderr (the Go
// analogue of util.c's `system()`-based execute_command). It returns
// the exit code rather than an error for a non-zero exit, since spec §7
// treats "external tool non-zero exit" as fatal-with-status, a decision
// left to the caller.
func Run(ctx context.Context, name string, args ...string) (Result, error) {
	logrus.WithField("command", commandLine(name, args)).Debug("iago::exec - running")

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return run(cmd, name, args)
}

// RunCaptured executes name with args, capturing stdout for callers
// that need to parse tool output (e.g. the NTFS minimum-shrink probe's
// "You might resize at " line, spec §4.3.1).
func RunCaptured(ctx context.Context, name string, args ...string) (Result, error) {
	logrus.WithField("command", commandLine(name, args)).Debug("iago::exec - running (captured)")

	var stdout bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr

	res, err := run(cmd, name, args)
	res.Stdout = stdout.String()
	return res, err
}

// RunWithInput executes name with args, writing data to the child's
// stdin and closing it — the analogue of execute_command_data's popen
// write side, for feeding data to a tool via its stdin instead of a
// temp file.
func RunWithInput(ctx context.Context, data []byte, name string, args ...string) (Result, error) {
	logrus.WithField("command", commandLine(name, args)).Debug("iago::exec - running (stdin)")

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return run(cmd, name, args)
}

func run(cmd *exec.Cmd, name string, args []string) (Result, error) {
	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !asExitError(err, &exitErr) {
			return Result{}, errors.Wrapf(err, "starting %s", commandLine(name, args))
		}
		exitCode = exitErr.ExitCode()
	}

	logrus.WithFields(logrus.Fields{
		"command": commandLine(name, args),
		"exit":    exitCode,
	}).Debug("iago::exec - done")

	return Result{ExitCode: exitCode}, nil
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

func commandLine(name string, args []string) string {
	line := name
	for _, a := range args {
		line += " " + a
	}
	return line
}
