// +build linux

package server

import (
	"syscall"

	log "github.com/sirupsen/logrus"
)

// raiseOpenFileLimit lifts the soft RLIMIT_NOFILE towards `want`,
// but never above the hard limit.
func raiseOpenFileLimit(want uint64) error {
	rLimit := syscall.Rlimit{}
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return err
	}

	if rLimit.Cur >= want || rLimit.Cur >= rLimit.Max {
		return nil
	}

	if want > rLimit.Max {
		log.Warningf(
			"server.max_connections needs %d open files, but the hard limit is %d",
			want, rLimit.Max,
		)
		want = rLimit.Max
	}

	rLimit.Cur = want
	if err := syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rLimit); err != nil {
		return err
	}

	log.Debugf("Increased max number of open fds to %d (hard: %d)", rLimit.Cur, rLimit.Max)
	return nil
}
