package bazi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	errx "github.com/wuxing-advisor/server/internal/core/error"
	logx "github.com/wuxing-advisor/server/pkg/logger"
)

// Runner executes the calculator once: request in on stdin, replies out on stdout.
type Runner interface {
	Run(ctx context.Context, stdin []byte) ([]byte, error)
}

// ExecRunner starts Command as a subprocess per call.
type ExecRunner struct {
	Command string
}

func (r *ExecRunner) Run(ctx context.Context, stdin []byte) ([]byte, error) {
	argv := strings.Fields(r.Command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("bazi command is empty")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if stderr.Len() > 0 {
		logx.Debug().Str("stderr", clip(stderr.String(), 500)).Msg("Bazi calculator stderr")
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", r.Command, errx.ErrOracleTimeout)
		}
		return nil, ctxErr
	}
	// the calculator may exit non-zero after writing a usable reply
	if err != nil && stdout.Len() == 0 {
		return nil, fmt.Errorf("run %s: %w", r.Command, err)
	}
	return stdout.Bytes(), nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
