//go:build unix && !linux

package fsmeta

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/macg4dave/duopane/pkg/hints"
)

// preserveExtras on non-Linux Unix copies ownership only; the xattr syscall
// surface differs per platform and is not worth chasing here.
func preserveExtras(src, dst string) []error {
	info, err := os.Lstat(src)
	if err != nil {
		return []error{hints.Wrap(fmt.Errorf("could not stat %s for ownership: %w", src, err))}
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	if err := unix.Lchown(dst, int(st.Uid), int(st.Gid)); err != nil {
		return []error{hints.Wrap(fmt.Errorf("could not chown %s: %w", dst, err))}
	}
	return nil
}
