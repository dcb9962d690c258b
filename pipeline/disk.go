package pipeline

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"github.com/shirou/gopsutil/v3/disk"
)

// FreeSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeSpace(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

type DiskSpaceError struct {
	Path string
	Free uint64
	Need uint64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("not enough free disk space under %s: %s free, %s required",
		e.Path, datasize.ByteSize(e.Free).HumanReadable(), datasize.ByteSize(e.Need).HumanReadable())
}
