// Package event defines the canonical representation of one observed
// file-system or process-lifecycle access. Raw events from the interception
// layer arrive in three structurally different shapes (absolute paths,
// relative paths anchored to a directory handle, bare file handles); the
// constructors here normalize all of them into a single Event that the
// access pipeline can resolve, check, and report.
package event

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Kind is a platform-neutral operation observed against the file system or
// the process tree.
type Kind int

const (
	OpOpen Kind = iota
	OpCreate
	OpRead
	OpWrite
	OpStat
	OpProbe
	OpEnumerate
	OpReadlink
	OpRename
	OpUnlink
	OpExec
	OpFork
	OpExit
)

var kindNames = map[Kind]string{
	OpOpen:      "open",
	OpCreate:    "create",
	OpRead:      "read",
	OpWrite:     "write",
	OpStat:      "stat",
	OpProbe:     "probe",
	OpEnumerate: "enumerate",
	OpReadlink:  "readlink",
	OpRename:    "rename",
	OpUnlink:    "unlink",
	OpExec:      "exec",
	OpFork:      "fork",
	OpExit:      "exit",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// PathKind describes which payload shape an Event carries.
type PathKind int

const (
	// AbsolutePaths: src/dst are absolute path strings.
	AbsolutePaths PathKind = iota
	// RelativePaths: src/dst are relative path strings, each anchored to an
	// open directory handle.
	RelativePaths
	// FileDescriptors: no path strings were ever materialized; src/dst are
	// already-open handles.
	FileDescriptors
)

func (p PathKind) String() string {
	switch p {
	case AbsolutePaths:
		return "absolute"
	case RelativePaths:
		return "relative"
	case FileDescriptors:
		return "fd"
	}
	return "unknown"
}

// Resolution states how much symlink resolution an Event's paths still need
// before they can be used for policy lookup.
type Resolution int

const (
	// FullyResolve resolves every component, including the final one.
	FullyResolve Resolution = iota
	// ResolveNoFollow resolves intermediate components but not the final
	// one, matching O_NOFOLLOW open semantics.
	ResolveNoFollow
	// DoNotResolve skips resolution. Set on internally synthesized events
	// and forced after SetResolvedPaths so an event is never resolved twice.
	DoNotResolve
)

// NoFD marks an unused handle field.
const NoFD = -1

// FDCWD is the root-handle sentinel meaning "relative to the process's
// current working directory".
const FDCWD = unix.AT_FDCWD

var (
	// ErrInvalid is returned by mutators called on the invalid sentinel.
	ErrInvalid = errors.New("event: invalid event")
	// ErrSealed is returned by mutators called after Seal.
	ErrSealed = errors.New("event: sealed event is immutable")
)

// PathArg is an optional path argument to a constructor. The interception
// layer may fail to materialize a path string for a captured syscall; that
// absence is distinct from an empty path ("" is a present-but-empty
// destination, meaning the operation has no destination). The zero value,
// NoPath, poisons construction and yields the invalid sentinel.
type PathArg struct {
	s  string
	ok bool
}

// Path wraps a present path string, including the empty string.
func Path(s string) PathArg { return PathArg{s: s, ok: true} }

// NoPath is the absent-path argument.
var NoPath = PathArg{}

// Get returns the path string and whether it is present.
func (p PathArg) Get() (string, bool) { return p.s, p.ok }

// Event is the canonical record of one observed access. It is mutable until
// sealed: the pipeline may set the file mode, override the resolution
// requirement, and replace the paths with their resolved absolute forms.
// Once a report has been produced from it the event is sealed and every
// mutator fails with ErrSealed.
//
// Accessors require a valid event: callers must check Valid first. Touching
// a field of the invalid sentinel is a programming error and panics.
type Event struct {
	kind       Kind
	pathKind   PathKind
	srcPath    string
	dstPath    string
	srcFD      int
	dstFD      int
	pid        int
	childPID   int
	resolution Resolution
	mode       uint32
	errno      unix.Errno
	valid      bool
	sealed     bool
}

func invalid() *Event { return &Event{} }

func newEvent(kind Kind, src, dst string, srcFD, dstFD, pid, childPID int, errno unix.Errno, pathKind PathKind) *Event {
	return &Event{
		kind:       kind,
		pathKind:   pathKind,
		srcPath:    src,
		dstPath:    dst,
		srcFD:      srcFD,
		dstFD:      dstFD,
		pid:        pid,
		childPID:   childPID,
		resolution: FullyResolve,
		errno:      errno,
		valid:      true,
	}
}

// NewFork builds the event for a fork/clone, recording the parent, the new
// child, and the path of the executable the child is running.
func NewFork(pid, childPID int, execPath string) *Event {
	ev := newEvent(OpFork, execPath, "", NoFD, NoFD, pid, childPID, 0, AbsolutePaths)
	return ev
}

// NewAbsolute builds an event from one or two absolute path strings. A
// source or destination that is not rooted at '/' is reclassified as
// relative to the current working directory and redirected to NewRelative
// with an FDCWD root handle, so downstream resolution never sees a
// non-absolute path without an explicit root. An empty destination means
// the operation has no destination and stays with the absolute shape.
func NewAbsolute(kind Kind, pid int, errno unix.Errno, src, dst PathArg) *Event {
	if !src.ok || !dst.ok {
		return invalid()
	}

	srcRelative := src.s == "" || src.s[0] != '/'
	dstRelative := dst.s != "" && dst.s[0] != '/'

	if srcRelative || dstRelative {
		srcFD := NoFD
		if srcRelative {
			srcFD = FDCWD
		}
		dstFD := NoFD
		if dstRelative {
			dstFD = FDCWD
		}
		return NewRelative(kind, pid, errno, src, srcFD, dst, dstFD)
	}

	return newEvent(kind, src.s, dst.s, NoFD, NoFD, pid, 0, errno, AbsolutePaths)
}

// NewFD builds an event whose origin syscall never materialized a path
// string, only already-open handles.
func NewFD(kind Kind, pid int, errno unix.Errno, srcFD, dstFD int) *Event {
	return newEvent(kind, "", "", srcFD, dstFD, pid, 0, errno, FileDescriptors)
}

// NewRelative builds an event from relative path strings plus the directory
// handles they are anchored to.
func NewRelative(kind Kind, pid int, errno unix.Errno, src PathArg, srcFD int, dst PathArg, dstFD int) *Event {
	if !src.ok || !dst.ok {
		return invalid()
	}
	return newEvent(kind, src.s, dst.s, srcFD, dstFD, pid, 0, errno, RelativePaths)
}

// Valid reports whether the event was successfully constructed. Every other
// accessor requires Valid to be true.
func (e *Event) Valid() bool { return e.valid }

func (e *Event) mustValid() {
	if !e.valid {
		panic("event: accessor called on invalid event")
	}
}

func (e *Event) Kind() Kind             { e.mustValid(); return e.kind }
func (e *Event) PathKind() PathKind     { e.mustValid(); return e.pathKind }
func (e *Event) Pid() int               { e.mustValid(); return e.pid }
func (e *Event) ChildPid() int          { e.mustValid(); return e.childPID }
func (e *Event) SrcPath() string        { e.mustValid(); return e.srcPath }
func (e *Event) DstPath() string        { e.mustValid(); return e.dstPath }
func (e *Event) SrcFD() int             { e.mustValid(); return e.srcFD }
func (e *Event) DstFD() int             { e.mustValid(); return e.dstFD }
func (e *Event) Errno() unix.Errno      { e.mustValid(); return e.errno }
func (e *Event) Mode() uint32           { e.mustValid(); return e.mode }
func (e *Event) Resolution() Resolution { e.mustValid(); return e.resolution }

// IsDirectory reports whether the mode bits identify a directory.
func (e *Event) IsDirectory() bool {
	e.mustValid()
	return e.mode&unix.S_IFMT == unix.S_IFDIR
}

// Sealed reports whether a report has been produced from this event.
func (e *Event) Sealed() bool { return e.sealed }

// Seal freezes the event after a report has been produced from it. Sealing
// is one-way; there is no unseal.
func (e *Event) Seal() { e.sealed = true }

func (e *Event) mutable() error {
	if !e.valid {
		return ErrInvalid
	}
	if e.sealed {
		return ErrSealed
	}
	return nil
}

// SetMode records the file mode bits observed for the source path.
func (e *Event) SetMode(mode uint32) error {
	if err := e.mutable(); err != nil {
		return err
	}
	e.mode = mode
	return nil
}

// SetResolution overrides the resolution requirement.
func (e *Event) SetResolution(r Resolution) error {
	if err := e.mutable(); err != nil {
		return err
	}
	e.resolution = r
	return nil
}

// SetErrno records an OS error discovered after construction, typically a
// resolution failure.
func (e *Event) SetErrno(errno unix.Errno) error {
	if err := e.mutable(); err != nil {
		return err
	}
	e.errno = errno
	return nil
}

// SetResolvedPaths replaces the paths with their resolved absolute forms.
// The event becomes an AbsolutePaths event, both handles are cleared, and
// the resolution requirement is forced to DoNotResolve so the paths are
// never normalized a second time. Idempotent under repeated calls.
func (e *Event) SetResolvedPaths(src, dst string) error {
	if err := e.mutable(); err != nil {
		return err
	}
	e.srcPath = src
	e.dstPath = dst
	e.srcFD = NoFD
	e.dstFD = NoFD
	e.resolution = DoNotResolve
	e.pathKind = AbsolutePaths
	return nil
}
