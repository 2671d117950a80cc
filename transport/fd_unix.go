package transport

import "golang.org/x/sys/unix"

// closeFd closes a raw file descriptor, tolerating EINTR the way the
// rest of the package expects low-level socket operations to behave.
func closeFd(fd int) error {
	for {
		err := unix.Close(fd)
		if err == unix.EINTR {
			continue
		}
		return err
	}
}
