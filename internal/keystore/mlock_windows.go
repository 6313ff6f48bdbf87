//go:build windows

package keystore

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// pin keeps buf out of the page file. It reports whether VirtualLock succeeded.
func pin(buf []byte) bool {
	if len(buf) == 0 {
		return false
	}
	return windows.VirtualLock(uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf))) == nil
}

func unpin(buf []byte) {
	if len(buf) > 0 {
		_ = windows.VirtualUnlock(uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	}
}
