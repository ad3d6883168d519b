package jobqueue

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"shopscan/internal/services"
)

var commandContext = exec.CommandContext

// ExecRunner runs the reconstruction and optimization programs from
// configured argument templates. The templates may use the placeholders
// {job}, {video}, {input}, and {output}.
type ExecRunner struct {
	ReconstructArgs []string
	OptimizeArgs    []string
}

func (r *ExecRunner) Reconstruct(ctx context.Context, jobID, videoPath string) error {
	args := expandArgs(r.ReconstructArgs, map[string]string{
		"{job}":   jobID,
		"{video}": videoPath,
	})
	return runCommand(ctx, "reconstruct", args)
}

func (r *ExecRunner) Optimize(ctx context.Context, jobID, rawPath, optimizedPath string) error {
	args := expandArgs(r.OptimizeArgs, map[string]string{
		"{job}":    jobID,
		"{input}":  rawPath,
		"{output}": optimizedPath,
	})
	return runCommand(ctx, "optimize", args)
}

func expandArgs(template []string, vars map[string]string) []string {
	args := make([]string, len(template))
	for i, arg := range template {
		for placeholder, value := range vars {
			arg = strings.ReplaceAll(arg, placeholder, value)
		}
		args[i] = arg
	}
	return args
}

func runCommand(ctx context.Context, operation string, args []string) error {
	if len(args) == 0 {
		return services.Wrap(services.ErrValidation, stageName, operation, "no command configured", nil)
	}
	cmd := commandContext(ctx, args[0], args[1:]...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, operation,
			fmt.Sprintf("%s: %s", strings.Join(args, " "), strings.TrimSpace(string(output))), err)
	}
	return nil
}
