package canon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/majorcontext/rampart/internal/event"
)

// Resolver turns a (root handle, path) pair into a canonical absolute path.
// Implementations do the physical symlink walking; the core only dictates
// how much of the final component is followed.
type Resolver interface {
	// Resolve returns the absolute form of path. rootFD anchors a relative
	// path: event.FDCWD means the current working directory, any other
	// non-negative value is an open directory handle, and event.NoFD means
	// path is already absolute. When nofollow is set, a symlink in the
	// final component is not followed.
	Resolve(rootFD int, path string, nofollow bool) (string, error)

	// FDPath returns the path of an already-open handle. Handle paths are
	// canonical by construction and need no further resolution.
	FDPath(fd int) (string, error)
}

// ResolveEvent rewrites ev in place so its path kind becomes AbsolutePaths,
// honoring the event's resolution requirement. DoNotResolve is a no-op. On
// failure the errno is recorded on the event and returned; the event keeps
// its original shape so the checker can see what could not be resolved.
func ResolveEvent(ev *event.Event, r Resolver) error {
	if !ev.Valid() {
		return event.ErrInvalid
	}
	if ev.Resolution() == event.DoNotResolve {
		return nil
	}
	nofollow := ev.Resolution() == event.ResolveNoFollow

	var src, dst string
	var err error

	switch ev.PathKind() {
	case event.AbsolutePaths:
		src, err = r.Resolve(event.NoFD, ev.SrcPath(), nofollow)
		if err == nil && ev.DstPath() != "" {
			dst, err = r.Resolve(event.NoFD, ev.DstPath(), nofollow)
		}
	case event.RelativePaths:
		src, err = r.Resolve(ev.SrcFD(), ev.SrcPath(), nofollow)
		if err == nil && ev.DstPath() != "" {
			dst, err = r.Resolve(ev.DstFD(), ev.DstPath(), nofollow)
		}
	case event.FileDescriptors:
		src, err = r.FDPath(ev.SrcFD())
		if err == nil && ev.DstFD() != event.NoFD {
			dst, err = r.FDPath(ev.DstFD())
		}
	}

	if err != nil {
		ev.SetErrno(toErrno(err))
		return fmt.Errorf("resolve %s event for pid %d: %w", ev.PathKind(), ev.Pid(), err)
	}
	return ev.SetResolvedPaths(src, dst)
}

func toErrno(err error) unix.Errno {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	if os.IsNotExist(err) {
		return unix.ENOENT
	}
	return unix.EIO
}

// OSResolver resolves against the live file system. Directory and file
// handles are expected to be valid in this process's fd table (the
// interception layer duplicates them in alongside the raw event).
type OSResolver struct{}

func (OSResolver) Resolve(rootFD int, path string, nofollow bool) (string, error) {
	abs := path
	if !filepath.IsAbs(path) {
		var base string
		switch rootFD {
		case event.FDCWD:
			wd, err := os.Getwd()
			if err != nil {
				return "", err
			}
			base = wd
		case event.NoFD:
			return "", unix.EINVAL
		default:
			dir, err := OSResolver{}.FDPath(rootFD)
			if err != nil {
				return "", err
			}
			base = dir
		}
		abs = filepath.Join(base, path)
	}
	abs = filepath.Clean(abs)

	if nofollow {
		dir, err := resolveExisting(filepath.Dir(abs))
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, filepath.Base(abs)), nil
	}
	return resolveExisting(abs)
}

func (OSResolver) FDPath(fd int) (string, error) {
	if fd < 0 {
		return "", unix.EBADF
	}
	path, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd))
	if err != nil {
		return "", unix.EBADF
	}
	return path, nil
}

// resolveExisting fully resolves a path, tolerating missing components: a
// build tool frequently probes or creates paths that do not exist yet, and
// those still need a canonical absolute form for policy lookup. The longest
// existing ancestor is resolved and the missing tail kept verbatim.
func resolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}
	path = filepath.Clean(path)
	if path == "/" {
		return "", err
	}
	parent, perr := resolveExisting(filepath.Dir(path))
	if perr != nil {
		return "", perr
	}
	return filepath.Join(parent, filepath.Base(path)), nil
}
