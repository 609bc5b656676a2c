//go:build !windows

package trackerhttp

import "golang.org/x/sys/unix"

// pathologicallyLowNoFile is the soft RLIMIT_NOFILE below which this
// process raises its own limit before computing a budget from it, so a
// shell that left the default 256-ish soft limit in place doesn't starve
// the tracker connection pool down to a handful of sockets.
const pathologicallyLowNoFile = 1024

// readFDBudget returns 25% of the process's RLIMIT_NOFILE soft limit, the
// share this subsystem is allowed to spend on tracker connections. If the
// soft limit is pathologically low, it is first raised toward the hard
// limit (best effort — a failed raise just falls back to the existing
// soft limit).
func readFDBudget() int {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return 100
	}
	if rlimit.Cur < pathologicallyLowNoFile && rlimit.Cur < rlimit.Max {
		raised := rlimit
		raised.Cur = rlimit.Max
		if raised.Cur > pathologicallyLowNoFile {
			raised.Cur = pathologicallyLowNoFile
		}
		if unix.Setrlimit(unix.RLIMIT_NOFILE, &raised) == nil {
			rlimit = raised
		}
	}

	budget := int(rlimit.Cur) / 4
	if budget < 2 {
		return 2
	}
	if budget > 100 {
		return 100
	}
	return budget
}
