//go:build windows

package trackerhttp

// readFDBudget on Windows falls back to a fixed budget: there's no
// RLIMIT_NOFILE equivalent exposed the way golang.org/x/sys/unix exposes
// it for POSIX systems, and the handle limits that do apply are governed
// by the process' own handle table rather than a meaningful single knob.
func readFDBudget() int {
	return 100
}
