package daemon

import (
	"bufio"
	"encoding/json"
	"io"

	"golang.org/x/sys/unix"

	"github.com/majorcontext/rampart/internal/event"
	"github.com/majorcontext/rampart/internal/log"
)

// jsonRawEvent is the wire form of a raw event: one JSON object per line.
// Path fields are pointers so a path the interception layer failed to
// materialize (null) stays distinct from a present-but-empty path.
type jsonRawEvent struct {
	PipID    string  `json:"pip_id"`
	Kind     string  `json:"kind"`
	Shape    string  `json:"shape,omitempty"`
	Pid      int     `json:"pid"`
	ChildPid int     `json:"child_pid,omitempty"`
	Errno    int     `json:"errno,omitempty"`
	SrcPath  *string `json:"src_path,omitempty"`
	DstPath  *string `json:"dst_path,omitempty"`
	SrcFD    int     `json:"src_fd,omitempty"`
	DstFD    int     `json:"dst_fd,omitempty"`
	Mode     uint32  `json:"mode,omitempty"`
	ExecPath string  `json:"exec_path,omitempty"`
}

var kindsByName = map[string]event.Kind{
	"open":      event.OpOpen,
	"create":    event.OpCreate,
	"read":      event.OpRead,
	"write":     event.OpWrite,
	"stat":      event.OpStat,
	"probe":     event.OpProbe,
	"enumerate": event.OpEnumerate,
	"readlink":  event.OpReadlink,
	"rename":    event.OpRename,
	"unlink":    event.OpUnlink,
	"exec":      event.OpExec,
	"fork":      event.OpFork,
	"exit":      event.OpExit,
}

var shapesByName = map[string]Shape{
	"":         ShapeAbsolute,
	"absolute": ShapeAbsolute,
	"relative": ShapeRelative,
	"fd":       ShapeFD,
	"process":  ShapeProcess,
}

// srcArg maps a missing source path to the invalid-event sentinel: the
// interception layer always materializes a source path for a well-formed
// capture, so absence means the capture was corrupt.
func srcArg(p *string) event.PathArg {
	if p == nil {
		return event.NoPath
	}
	return event.Path(*p)
}

// dstArg maps a missing destination to "no destination": most operations
// simply have none.
func dstArg(p *string) event.PathArg {
	if p == nil {
		return event.Path("")
	}
	return event.Path(*p)
}

// JSONSource reads newline-delimited JSON raw events from a reader,
// typically the pipe from the interception layer.
type JSONSource struct {
	ch chan RawEvent
}

// NewJSONSource starts decoding r in the background. The event channel
// closes when the reader is exhausted. Undecodable lines are dropped with
// a warning rather than stopping the stream.
func NewJSONSource(r io.Reader) *JSONSource {
	s := &JSONSource{ch: make(chan RawEvent, 64)}
	go s.decode(r)
	return s
}

func (s *JSONSource) Events() <-chan RawEvent { return s.ch }

func (s *JSONSource) decode(r io.Reader) {
	defer close(s.ch)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var je jsonRawEvent
		if err := json.Unmarshal(line, &je); err != nil {
			log.Warn("dropping undecodable event line", "error", err)
			continue
		}
		kind, ok := kindsByName[je.Kind]
		if !ok {
			log.Warn("dropping event with unknown kind", "kind", je.Kind)
			continue
		}
		shape, ok := shapesByName[je.Shape]
		if !ok {
			log.Warn("dropping event with unknown shape", "shape", je.Shape)
			continue
		}

		raw := RawEvent{
			PipID:    je.PipID,
			Kind:     kind,
			Shape:    shape,
			Pid:      je.Pid,
			ChildPid: je.ChildPid,
			Errno:    unix.Errno(je.Errno),
			Src:      srcArg(je.SrcPath),
			Dst:      dstArg(je.DstPath),
			SrcFD:    je.SrcFD,
			DstFD:    je.DstFD,
			Mode:     je.Mode,
			ExecPath: je.ExecPath,
		}
		// JSON zero values for handle fields mean "no handle".
		if je.SrcFD == 0 && shape != ShapeFD {
			raw.SrcFD = event.NoFD
		}
		if je.DstFD == 0 && shape != ShapeFD {
			raw.DstFD = event.NoFD
		}
		s.ch <- raw
	}
	if err := scanner.Err(); err != nil {
		log.Warn("event stream read failed", "error", err)
	}
}
