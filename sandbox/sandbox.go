package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

var (
	ErrUnsupportedLanguage = errors.New("language not supported")
	ErrTimeout             = errors.New("execution timed out")
	ErrUnavailable         = errors.New("execution engine unavailable")
)

const (
	workDir     = "/usr/src/app"
	memoryLimit = 128 << 20 // 128 MiB hard ceiling per job
)

// Result captures the output of one finished execution job.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int64
}

// runtimeSpec maps a language tag to its container image and entry command.
// Commands are fixed argument vectors over constant file names; user-supplied
// text is never interpolated into them.
type runtimeSpec struct {
	image    string
	filename string
	cmd      []string
}

var runtimes = map[string]runtimeSpec{
	"javascript": {image: "node:18", filename: "code.js", cmd: []string{"node", "code.js"}},
	"python":     {image: "python:3.10", filename: "code.py", cmd: []string{"python3", "code.py"}},
	"cpp":        {image: "gcc:13", filename: "code.cpp", cmd: []string{"sh", "-c", "g++ code.cpp -o code.out && ./code.out"}},
}

// Runner executes untrusted code inside resource-bounded containers.
type Runner struct {
	cli     *client.Client
	timeout time.Duration
}

// NewRunner connects to the Docker daemon.
func NewRunner(timeout time.Duration) (*Runner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}

	if _, err := cli.Ping(context.Background()); err != nil {
		return nil, err
	}

	log.Println("Successfully connected to Docker daemon")
	return &Runner{cli: cli, timeout: timeout}, nil
}

// Supported reports whether a language tag has a mapped runtime.
func Supported(language string) bool {
	_, ok := runtimes[language]
	return ok
}

// Run materializes sourceText into a fresh scratch directory, executes it in
// an isolated container (no network, bounded memory, wall-clock timeout) and
// returns the captured output. A nonzero exit is reported through
// Result.ExitCode, not an error.
func (r *Runner) Run(ctx context.Context, sourceText, language string) (*Result, error) {
	spec, ok := runtimes[language]
	if !ok {
		return nil, ErrUnsupportedLanguage
	}

	// One scratch directory per job; concurrent runs never share files.
	dir, err := os.MkdirTemp("", "sandbox-"+uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	if err := os.WriteFile(filepath.Join(dir, spec.filename), []byte(sourceText), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write source file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Best effort: the image may already be present locally.
	if reader, err := r.cli.ImagePull(ctx, spec.image, image.PullOptions{}); err != nil {
		log.Printf("Image pull for %s failed, using local image if present: %v", spec.image, err)
	} else {
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	config := &container.Config{
		Image:           spec.image,
		Cmd:             spec.cmd,
		WorkingDir:      workDir,
		NetworkDisabled: true,
	}
	hostConfig := &container.HostConfig{
		Binds:       []string{dir + ":" + workDir},
		NetworkMode: "none",
		Resources: container.Resources{
			Memory: memoryLimit,
		},
	}

	resp, err := r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "sandbox-"+uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer func() {
		// Force removal also kills a still-running (timed out) container.
		if err := r.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			log.Printf("Failed to remove container %s: %v", resp.ID[:12], err)
		}
	}()

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	var exitCode int64
	statusCh, errCh := r.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed waiting for container: %w", err)
	case status := <-statusCh:
		exitCode = status.StatusCode
	case <-ctx.Done():
		return nil, ErrTimeout
	}

	logs, err := r.cli.ContainerLogs(context.Background(), resp.ID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read container logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, fmt.Errorf("failed to demux container logs: %w", err)
	}

	return &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

// Global runner instance, initialized from main.
var defaultRunner *Runner

// Init connects the package-level runner to the Docker daemon.
func Init(timeout time.Duration) error {
	runner, err := NewRunner(timeout)
	if err != nil {
		return err
	}
	defaultRunner = runner
	return nil
}

// Run executes a job on the package-level runner. The unsupported-language
// check happens before anything else so that an unmapped language never
// touches the filesystem or requires a daemon.
func Run(ctx context.Context, sourceText, language string) (*Result, error) {
	if !Supported(language) {
		return nil, ErrUnsupportedLanguage
	}
	if defaultRunner == nil {
		return nil, ErrUnavailable
	}
	return defaultRunner.Run(ctx, sourceText, language)
}
