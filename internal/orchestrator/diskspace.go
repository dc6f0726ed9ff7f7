package orchestrator

import "golang.org/x/sys/unix"

// freeDiskBytes returns the space available to an unprivileged process on
// the filesystem containing path.
func freeDiskBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
