package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/srediag/shmlog/internal/launch"
	"github.com/srediag/shmlog/internal/shm"
)

// helloSize is the region mapped by the smoke test.
const helloSize = 4096

// HelloArgs is the default smoke test child command line.
func HelloArgs(ref Ref) []string {
	return []string{"hello", "-child", "-ref", ref.String()}
}

// Hello maps a fresh region, runs one child that writes a greeting into it
// and returns what the parent reads back after the child has exited. args
// builds the child's command line, HelloArgs when nil.
func Hello(ctx context.Context, exe string, args func(Ref) []string) (string, error) {
	if args == nil {
		args = HelloArgs
	}
	region, err := shm.MapRegion(ctx, shm.MapOptions{
		Name:   fmt.Sprintf("hello_%d", os.Getpid()),
		Size:   helloSize,
		Create: true,
	})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = shm.UnmapRegion(context.WithoutCancel(ctx), region)
	}()
	clear(region.Mem)

	ref := Ref{Path: region.Path}
	started := true
	l := &launch.ProcessLauncher{
		Path:   exe,
		Args:   func(int) []string { return args(ref) },
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Lost:   func(int) { started = false },
	}
	if _, startErr := l.Start(ctx, 1); startErr != nil {
		return "", startErr
	}
	if waitErr := l.Wait(); waitErr != nil {
		return "", waitErr
	}
	if !started {
		return "", errors.New("hello: child did not start")
	}
	n := int(shm.Word(region.Mem, 0).Load())
	if n > helloSize-shm.WordSize {
		return "", fmt.Errorf("hello: child wrote %d bytes into a %d byte region", n, helloSize)
	}
	return string(region.Mem[shm.WordSize : shm.WordSize+n]), nil
}

// HelloChild maps the parent's region and writes the greeting: a length
// word followed by the text.
func HelloChild(ctx context.Context, ref Ref) (string, error) {
	region, err := shm.MapRegion(ctx, shm.MapOptions{
		Path: ref.Path,
		Fd:   ref.Fd,
		Kind: refKind(ref),
		Size: helloSize,
	})
	if err != nil {
		return "", err
	}
	defer func() {
		_ = shm.UnmapRegion(context.WithoutCancel(ctx), region)
	}()
	msg := fmt.Sprintf("hello parent, from pid %d", os.Getpid())
	copy(region.Mem[shm.WordSize:], msg)
	shm.Word(region.Mem, 0).Store(uint32(len(msg)))
	return msg, nil
}

func refKind(ref Ref) shm.MemMapType {
	if ref.MemFd {
		return shm.MemMapTypeMemFd
	}
	return shm.MemMapTypeDevShmFile
}
