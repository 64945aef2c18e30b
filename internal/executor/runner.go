// Package executor runs the external downloader and captures its output.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ExitBinaryMissing is reported when the executable cannot be found or the
// process never produced an exit status.
const ExitBinaryMissing = -1

// Result is the decoded outcome of one run.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output returns stdout and stderr joined, the text the classifier scans.
func (r Result) Output() string {
	if r.Stderr == "" {
		return r.Stdout
	}
	if r.Stdout == "" {
		return r.Stderr
	}
	return r.Stdout + "\n" + r.Stderr
}

// Runner spawns the downloader.
type Runner struct {
	log      *logrus.Logger
	lookPath func(string) (string, error)
}

func NewRunner(log *logrus.Logger) *Runner {
	return &Runner{log: log, lookPath: exec.LookPath}
}

func missingBinary(exe string) string {
	return fmt.Sprintf("找不到BBDown可执行文件: %s\n"+
		"请确保BBDown已安装并在PATH中，或使用 /bili-set bbdown_path <完整路径> 设置BBDown的完整路径\n"+
		"例如: /bili-set bbdown_path /usr/local/bin/BBDown", exe)
}

// Resolvable reports whether exe is an existing absolute path or a bare name
// found on PATH.
func (r *Runner) Resolvable(exe string) bool {
	if filepath.IsAbs(exe) {
		info, err := os.Stat(exe)
		return err == nil && !info.IsDir()
	}
	_, err := r.lookPath(exe)
	return err == nil
}

// Run executes args[0] with the remaining arguments in the current working
// directory and the inherited environment. It never returns an error: every
// failure is folded into Result.
func (r *Runner) Run(ctx context.Context, args []string) Result {
	if len(args) == 0 {
		return Result{ExitCode: ExitBinaryMissing, Stderr: missingBinary("")}
	}
	exe := args[0]

	entry := r.log.WithFields(logrus.Fields{
		"component": "executor",
		"exe":       exe,
	})

	if !r.Resolvable(exe) {
		entry.Error("Downloader executable not found")
		return Result{ExitCode: ExitBinaryMissing, Stderr: missingBinary(exe)}
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}

	cmd := exec.CommandContext(ctx, exe, args[1:]...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	entry.WithFields(logrus.Fields{
		"args": redact(args[1:]),
		"cwd":  cwd,
	}).Info("Running downloader")

	start := time.Now()
	runErr := cmd.Run()
	res := Result{
		ExitCode: ExitBinaryMissing,
		Stdout:   Decode(stdout.Bytes()),
		Stderr:   Decode(stderr.Bytes()),
		Duration: time.Since(start),
	}

	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	var execErr *exec.Error
	if errors.As(runErr, &execErr) || errors.Is(runErr, os.ErrNotExist) {
		res.ExitCode = ExitBinaryMissing
		if res.Stderr == "" {
			res.Stderr = missingBinary(exe)
		}
	}

	entry.WithFields(logrus.Fields{
		"exit_code":  res.ExitCode,
		"duration":   res.Duration.String(),
		"stdout_len": len(res.Stdout),
		"stderr_len": len(res.Stderr),
	}).Debug("Downloader finished")

	return res
}

// redact hides the cookie argument from logs.
func redact(args []string) string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "-c" {
			out[i+1] = "***"
		}
	}
	return strings.Join(out, " ")
}
