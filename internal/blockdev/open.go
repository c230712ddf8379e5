package blockdev

import (
	"net"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
)

// privilegedFDEnv is set in the re-exec'd child's environment to the fd
// number it should use to hand its opened device back to the parent.
const privilegedFDEnv = "IAGO_PRIVILEGED_FD"

// OpenPrivileged opens path for read-write access, transparently
// re-executing the current binary under sudo and passing the resulting
// file descriptor back over a UNIX socket pair if a plain os.OpenFile
// fails with EACCES. This is the same socketpair+SCM_RIGHTS dance
// gokr-packer's SudoPartition uses to format SD cards without running
// the whole program as root.
func OpenPrivileged(path string) (*os.File, error) {
	if fd, err := strconv.Atoi(os.Getenv(privilegedFDEnv)); err == nil {
		return openPrivilegedChild(fd, path)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err == nil {
		return f, nil
	}
	pathErr, isPathErr := err.(*os.PathError)
	if !isPathErr || pathErr.Err != syscall.EACCES {
		return nil, err
	}

	return sudoOpen(path)
}

func openPrivilegedChild(fd int, path string) (*os.File, error) {
	conn, err := fdToUnixConn(uintptr(fd))
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	if _, _, err := conn.WriteMsgUnix(nil, syscall.UnixRights(int(f.Fd())), nil); err != nil {
		return nil, errors.Wrap(err, "sending privileged device fd to parent")
	}
	return nil, nil
}

func sudoOpen(path string) (*os.File, error) {
	pair, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, errors.Wrap(err, "socketpair")
	}
	syscall.CloseOnExec(pair[0])

	exe, err := os.Executable()
	if err != nil {
		exe = os.Args[0]
	}
	args := append([]string{exe}, os.Args[1:]...)
	cmd := exec.Command("sudo", append([]string{"--preserve-env"}, args...)...)
	cmd.Env = append(os.Environ(), privilegedFDEnv+"=1")
	cmd.Stdout = os.NewFile(uintptr(pair[1]), "")
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "starting sudo re-exec")
	}
	go cmd.Wait()

	conn, err := fdToUnixConn(uintptr(pair[0]))
	if err != nil {
		return nil, err
	}
	oob := make([]byte, 32)
	_, oobn, _, _, err := conn.ReadMsgUnix(nil, oob)
	if err != nil {
		return nil, errors.Wrap(err, "reading privileged fd from child")
	}
	if oobn <= 0 {
		return nil, errors.New("blockdev: child sent no out-of-band data")
	}

	scm, err := syscall.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, err
	}
	if len(scm) != 1 {
		return nil, errors.Errorf("blockdev: expected 1 control message, got %d", len(scm))
	}
	fds, err := syscall.ParseUnixRights(&scm[0])
	if err != nil {
		return nil, err
	}
	if len(fds) != 1 {
		return nil, errors.Errorf("blockdev: expected 1 fd, got %d", len(fds))
	}

	return os.NewFile(uintptr(fds[0]), path), nil
}

func fdToUnixConn(fd uintptr) (*net.UnixConn, error) {
	fc, err := net.FileConn(os.NewFile(fd, ""))
	if err != nil {
		return nil, err
	}
	uc, ok := fc.(*net.UnixConn)
	if !ok {
		return nil, errors.New("blockdev: fd is not a unix socket")
	}
	return uc, nil
}
