// Package manifest loads HCL task manifests: a settings block carrying
// runner options plus task blocks describing commands and their depends-on
// edges.
package manifest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/taskgrid/internal/ctxlog"
	"github.com/vk/taskgrid/internal/runner"
	"github.com/vk/taskgrid/internal/task"
)

// Settings mirrors the manifest's settings block. Every field is optional;
// absent fields keep the runner defaults.
type Settings struct {
	MaxConcurrency *int    `hcl:"max_concurrency,optional"`
	Timeout        *string `hcl:"timeout,optional"`
	FastFail       *bool   `hcl:"fast_fail,optional"`
	Isolation      *string `hcl:"isolation,optional"`
	ProgressStats  *bool   `hcl:"progress_stats,optional"`
	LogErrors      *bool   `hcl:"log_errors,optional"`
	Name           *string `hcl:"name,optional"`
}

// TaskBlock is one task block from the manifest. The command attribute is an
// HCL expression evaluated against the process environment, so manifests can
// interpolate ${env.HOME} and friends.
type TaskBlock struct {
	Label     string   `hcl:"label,label"`
	Command   string   `hcl:"command"`
	Workdir   *string  `hcl:"workdir,optional"`
	DependsOn []string `hcl:"depends_on,optional"`
}

// Manifest is the decoded top-level document.
type Manifest struct {
	Settings *Settings    `hcl:"settings,block"`
	Tasks    []*TaskBlock `hcl:"task,block"`
}

// Load parses and decodes the manifest at path.
func Load(ctx context.Context, path string) (*Manifest, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("loading manifest", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, diags)
	}

	var m Manifest
	diags = gohcl.DecodeBody(file.Body, evalContext(), &m)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", path, diags)
	}
	logger.Debug("manifest loaded", "tasks", len(m.Tasks))
	return &m, nil
}

// evalContext exposes the process environment as the env object, so task
// commands can interpolate ambient values.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			vars[k] = cty.StringVal(v)
		}
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": env},
	}
}

// Apply overlays the manifest's settings onto opts.
func (s *Settings) Apply(opts *runner.Options) error {
	if s == nil {
		return nil
	}
	if s.MaxConcurrency != nil {
		opts.MaxConcurrency = *s.MaxConcurrency
	}
	if s.Timeout != nil {
		d, err := time.ParseDuration(*s.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", *s.Timeout, err)
		}
		opts.Timeout = d
	}
	if s.FastFail != nil {
		opts.FastFail = *s.FastFail
	}
	if s.Isolation != nil {
		iso, err := task.ParseIsolation(*s.Isolation)
		if err != nil {
			return err
		}
		opts.Isolation = iso
	}
	if s.ProgressStats != nil {
		opts.DisableProgress = !*s.ProgressStats
	}
	if s.LogErrors != nil {
		opts.LogErrors = *s.LogErrors
	}
	if s.Name != nil {
		opts.Name = *s.Name
	}
	return nil
}

// Batch converts the manifest's task blocks into runner batch entries backed
// by command work items.
func (m *Manifest) Batch() []runner.Task {
	batch := make([]runner.Task, 0, len(m.Tasks))
	for _, t := range m.Tasks {
		cmd := task.NewCommand(t.Label, t.Command)
		if t.Workdir != nil {
			cmd = cmd.WithWorkdir(*t.Workdir)
		}
		batch = append(batch, runner.Task{
			Work:      cmd,
			Label:     t.Label,
			DependsOn: t.DependsOn,
		})
	}
	return batch
}
