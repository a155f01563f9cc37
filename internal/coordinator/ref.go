package coordinator

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/srediag/shmlog/pkg/arena"
)

const fdPrefix = "fd:"

// Ref names an arena a producer attaches to: a /dev/shm path or an
// inherited memfd descriptor.
type Ref struct {
	Path  string
	Fd    int
	MemFd bool
}

// ParseRef parses the textual form produced by Ref.String: "fd:N" for a
// memfd, anything else is a path.
func ParseRef(s string) (Ref, error) {
	if s == "" {
		return Ref{}, errors.New("empty arena reference")
	}
	if v, ok := strings.CutPrefix(s, fdPrefix); ok {
		fd, err := strconv.Atoi(v)
		if err != nil || fd < 0 {
			return Ref{}, fmt.Errorf("invalid descriptor reference %q", s)
		}
		return Ref{Fd: fd, MemFd: true}, nil
	}
	return Ref{Path: s}, nil
}

func (r Ref) String() string {
	if r.MemFd {
		return fdPrefix + strconv.Itoa(r.Fd)
	}
	return r.Path
}

// OpenOptions returns the options that attach to the referenced arena.
func (r Ref) OpenOptions(capacity int) arena.OpenOptions {
	return arena.OpenOptions{
		Path:     r.Path,
		Fd:       r.Fd,
		MemFd:    r.MemFd,
		Capacity: capacity,
	}
}
