package transport

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
)

// Process is an agent subprocess with a Conn attached to its stdio.
type Process struct {
	*Conn
	cmd *exec.Cmd
}

// Spawn starts the agent command and wires a Conn to its stdin/stdout.
// The agent's stderr passes through to ours; agents log there.
func Spawn(command string, args []string, handler Handler, opts ...Option) (*Process, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("agent stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent %q: %w", command, err)
	}

	return &Process{
		Conn: NewConn(stdout, stdin, handler, opts...),
		cmd:  cmd,
	}, nil
}

// Close ends the agent process. The read loop drains on its own once
// stdout closes.
func (p *Process) Close() error {
	if p.cmd.Process != nil {
		if err := p.cmd.Process.Kill(); err != nil {
			slog.Default().Debug("agent kill", slog.String("error", err.Error()))
		}
	}
	return p.cmd.Wait()
}
