package thumbs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
)

// runCommand 执行外部命令并返回stdout
func runCommand(ctx context.Context, toolPath string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, toolPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if len(msg) > 256 {
			msg = msg[:256]
		}
		return nil, fmt.Errorf("%s: %w (stderr: %s)", toolPath, err, msg)
	}

	return stdout.Bytes(), nil
}
