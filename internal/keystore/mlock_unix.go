//go:build !windows

package keystore

import "golang.org/x/sys/unix"

// pin keeps buf out of swap. It reports whether the kernel accepted the lock;
// RLIMIT_MEMLOCK is commonly small, so a refusal is not an error.
func pin(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	return unix.Mlock(buf) == nil
}

func unpin(buf []byte) {
	if len(buf) > 0 {
		_ = unix.Munlock(buf)
	}
}
