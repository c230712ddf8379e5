package cliui

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// tioclSetKmsgRedirect is linux/tiocl.h's TIOCL_SETKMSGREDIRECT, the
// TIOCLINUX subcommand that redirects kernel log messages to a given
// virtual console (original_source/installer/main.c).
const tioclSetKmsgRedirect = 11

// RedirectKernelMessages issues the redirect ioctl on ttyPath, sending
// kernel log output to virtual console 2 (the target console is fixed;
// ttyPath only names the terminal the ioctl is issued on) so an
// interactive install session's console isn't interleaved with kmsg spam. Best-effort: failure is
// logged, never fatal, since this is operator ergonomics, not a
// partitioning invariant.
func RedirectKernelMessages(ttyPath string) {
	f, err := os.OpenFile(ttyPath, os.O_RDWR, 0)
	if err != nil {
		logrus.WithError(err).WithField("tty", ttyPath).Warn("iago::cliui - could not open console for kmsg redirect")
		return
	}
	defer f.Close()

	bytes := [2]byte{tioclSetKmsgRedirect, 2}
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.TIOCLINUX, uintptr(unsafe.Pointer(&bytes[0]))); errno != 0 {
		logrus.WithError(errno).WithField("tty", ttyPath).Warn("iago::cliui - could not redirect kernel messages")
	}
}

// Pause blocks until the user presses Enter, the Go equivalent of the
// original's ui_pause() calls bracketing the execute phase in
// interactive mode.
func Pause(prompt string) {
	if prompt == "" {
		prompt = "Press Enter to continue..."
	}
	logrus.Info(prompt)
	var discard string
	_, _ = fmt.Scanln(&discard)
}

// cleanupMounts is the package-level registry plugins use to register a
// working-directory mount that must be torn down if the process is
// killed by SIGABRT mid-install (spec §5's "signal handler for SIGABRT
// attempts to unmount any bootloader working directory before
// re-raising the signal").
var cleanupMounts struct {
	mu    sync.Mutex
	paths []string
}

// RegisterCleanupMount records mountPath so UnmountAllRegistered can
// find it during emergency cleanup.
func RegisterCleanupMount(mountPath string) {
	cleanupMounts.mu.Lock()
	defer cleanupMounts.mu.Unlock()
	cleanupMounts.paths = append(cleanupMounts.paths, mountPath)
}

// UnregisterCleanupMount removes mountPath once a plugin has cleanly
// unmounted it itself.
func UnregisterCleanupMount(mountPath string) {
	cleanupMounts.mu.Lock()
	defer cleanupMounts.mu.Unlock()
	for i, p := range cleanupMounts.paths {
		if p == mountPath {
			cleanupMounts.paths = append(cleanupMounts.paths[:i], cleanupMounts.paths[i+1:]...)
			return
		}
	}
}

// UnmountAllRegistered unmounts every still-registered path, ignoring
// errors (best-effort emergency cleanup from a signal handler).
func UnmountAllRegistered() {
	cleanupMounts.mu.Lock()
	paths := append([]string(nil), cleanupMounts.paths...)
	cleanupMounts.mu.Unlock()

	for _, p := range paths {
		if err := unix.Unmount(p, 0); err != nil {
			logrus.WithError(err).WithField("mount", p).Warn("iago::cliui - emergency unmount failed")
		}
	}
}
