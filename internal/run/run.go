// Package run wraps os/exec for the external tools the pipeline shells out
// to. Tools are trusted to manage their own files; we only capture stderr so
// a failing exit comes back with something readable attached.
package run

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/Amirreza-0/PMGen/logger"
	"go.uber.org/zap"
)

// Available reports whether the binary can be found on PATH. Called once per
// stage so a missing tool fails before any work is done.
func Available(bin string) error {
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("%s not found on PATH: %w", bin, err)
	}
	return nil
}

// Command runs cmd to completion, capturing stderr. On a non-zero exit the
// returned error carries the full command line and whatever the tool wrote
// to stderr.
func Command(cmd *exec.Cmd) error {
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	logger.Debug("exec", zap.String("cmd", strings.Join(cmd.Args, " ")))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to execute '%s': %w - %s",
			strings.Join(cmd.Args, " "), err, stderr.String())
	}
	return nil
}

// CommandToFile runs cmd with stdout redirected into outPath, the shell
// `cmd ... > out` convention the alignment tools rely on.
func CommandToFile(cmd *exec.Cmd, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file %s: %w", outPath, err)
	}
	defer out.Close()

	cmd.Stdout = out

	return Command(cmd)
}
