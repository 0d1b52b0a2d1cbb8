//go:build linux

package fsmeta

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/macg4dave/duopane/pkg/hints"
)

// aclXattrPrefix covers the names the kernel exposes POSIX ACLs under. The
// blobs are copied opaquely; the engine never interprets individual entries.
const aclXattrPrefix = "system.posix_acl_"

var aclAttrs = []string{"system.posix_acl_access", "system.posix_acl_default"}

// preserveExtras copies the best-effort metadata classes: ownership,
// extended attributes and POSIX ACLs. Every returned error is a hint.
func preserveExtras(src, dst string) []error {
	var errs []error
	if err := preserveOwner(src, dst); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, preserveXattrs(src, dst)...)
	errs = append(errs, preserveACLs(src, dst)...)
	return errs
}

func preserveOwner(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return hints.Wrap(fmt.Errorf("could not stat %s for ownership: %w", src, err))
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return nil
	}
	if err := unix.Lchown(dst, int(st.Uid), int(st.Gid)); err != nil {
		return hints.Wrap(fmt.Errorf("could not chown %s: %w", dst, err))
	}
	return nil
}

func preserveXattrs(src, dst string) []error {
	names, err := listXattr(src)
	if err != nil {
		return []error{hints.Wrap(fmt.Errorf("could not list xattrs on %s: %w", src, err))}
	}

	var errs []error
	for _, name := range names {
		// ACLs surface in the xattr namespace too; preserveACLs owns them.
		if strings.HasPrefix(name, aclXattrPrefix) {
			continue
		}
		value, err := getXattr(src, name)
		if err != nil {
			errs = append(errs, hints.Wrap(fmt.Errorf("could not read xattr %s on %s: %w", name, src, err)))
			continue
		}
		if err := unix.Lsetxattr(dst, name, value, 0); err != nil {
			errs = append(errs, hints.Wrap(fmt.Errorf("could not set xattr %s on %s: %w", name, dst, err)))
		}
	}
	return errs
}

func preserveACLs(src, dst string) []error {
	var errs []error
	for _, attr := range aclAttrs {
		blob, err := getXattr(src, attr)
		if err != nil {
			// No ACL on the source is the normal case.
			if errors.Is(err, unix.ENODATA) || errors.Is(err, unix.ENOTSUP) {
				continue
			}
			errs = append(errs, hints.Wrap(fmt.Errorf("could not read ACL %s on %s: %w", attr, src, err)))
			continue
		}
		if err := unix.Lsetxattr(dst, attr, blob, 0); err != nil {
			errs = append(errs, hints.Wrap(fmt.Errorf("could not set ACL %s on %s: %w", attr, dst, err)))
		}
	}
	return errs
}

func listXattr(path string) ([]string, error) {
	size, err := unix.Llistxattr(path, nil)
	if err != nil {
		if errors.Is(err, unix.ENOTSUP) {
			return nil, nil
		}
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(path, buf)
	if err != nil {
		return nil, err
	}
	names := strings.Split(strings.TrimRight(string(buf[:n]), "\x00"), "\x00")
	return names, nil
}

func getXattr(path, name string) ([]byte, error) {
	size, err := unix.Lgetxattr(path, name, nil)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	n, err := unix.Lgetxattr(path, name, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}
