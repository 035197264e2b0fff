//go:build linux

package csv

import (
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// csvGuestMem is struct csv_guest_mem from the Hygon CSV guest driver.
type csvGuestMem struct {
	va  uint64
	len uint32
}

// getAttestationReport is _IOWR('D', 1, struct csv_guest_mem).
const getAttestationReport = uintptr(0xc0104401)

// reportBufferSize is the shared request/response buffer the driver
// expects, one page.
const reportBufferSize = 4096

func getReport(devicePath string, request []byte) ([]byte, error) {
	f, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, reportBufferSize)
	copy(buf, request)
	mem := csvGuestMem{
		va:  uint64(uintptr(unsafe.Pointer(&buf[0]))),
		len: reportBufferSize,
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), getAttestationReport, uintptr(unsafe.Pointer(&mem)))
	runtime.KeepAlive(buf)
	if errno != 0 {
		return nil, errno
	}
	return buf, nil
}
