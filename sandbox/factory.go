// Copyright 2026 The Mind-Swarm Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ltngt-ai/mind-swarm-sub002/lib/agentdef"
)

// agentNamePattern restricts agent names to what is safe as a
// directory name and a mailbox address.
var agentNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateAgentName rejects names that could escape the agents
// directory or collide with the broadcast address.
func ValidateAgentName(name string) error {
	if !agentNamePattern.MatchString(name) {
		return fmt.Errorf("invalid agent name %q: must match %s", name, agentNamePattern)
	}
	if name == "all" {
		return fmt.Errorf("agent name %q is reserved for broadcast", name)
	}
	return nil
}

// Config holds the parameters for creating a Factory.
type Config struct {
	// Root is the swarm root directory. Agent homes live under
	// "<root>/agents/<name>". Required.
	Root string

	// ToolsDir is the host directory bind-mounted read-only at
	// /tools. Required.
	ToolsDir string

	// SharedDir is the host directory bind-mounted read-write at
	// /shared. Defaults to "<root>/shared".
	SharedDir string

	// TypesDir is the host directory holding agent-type definition
	// files ("<type>.jsonc"). Required.
	TypesDir string

	// Logger for provisioning operations. If nil, slog.Default() is
	// used.
	Logger *slog.Logger
}

// Factory provisions per-agent sandboxes. Safe for concurrent use:
// provisioning distinct agents touches disjoint directory trees, and
// the coordinator serializes operations on any single agent.
type Factory struct {
	root      string
	toolsDir  string
	sharedDir string
	typesDir  string
	logger    *slog.Logger
}

// New creates a Factory and ensures the root, agents, and shared
// directories exist.
func New(config Config) (*Factory, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("root is required")
	}
	if config.ToolsDir == "" {
		return nil, fmt.Errorf("tools directory is required")
	}
	if config.TypesDir == "" {
		return nil, fmt.Errorf("types directory is required")
	}

	root, err := filepath.Abs(config.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root path: %w", err)
	}

	sharedDir := config.SharedDir
	if sharedDir == "" {
		sharedDir = filepath.Join(root, "shared")
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, dir := range []string{filepath.Join(root, "agents"), sharedDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	return &Factory{
		root:      root,
		toolsDir:  config.ToolsDir,
		sharedDir: sharedDir,
		typesDir:  config.TypesDir,
		logger:    logger,
	}, nil
}

// Root returns the swarm root directory.
func (f *Factory) Root() string { return f.root }

// AgentDir returns the host path of an agent's private home.
func (f *Factory) AgentDir(name string) string {
	return filepath.Join(f.root, "agents", name)
}

// mailboxSubdirs is the per-agent directory tree. outbox/sent is the
// router-side delivery audit; inbox/processed belongs to the agent and
// is never touched by the router.
var mailboxSubdirs = []string{
	"inbox",
	"inbox/processed",
	"outbox",
	"outbox/sent",
	"drafts",
	"memory",
	"code",
	ControlDirName,
}

// Provision allocates (or refreshes) an agent's directory tree and
// computes its sandbox spec.
//
// For a new agent the full tree is created. For an existing agent only
// the read-only code subtree is refreshed from the type's template;
// inbox, outbox, drafts, and memory are never touched. A stale
// shutdown sentinel from a previous run is cleared so the next launch
// does not immediately exit.
//
// A missing runtime binary is a *ConfigurationError: fatal, no retry.
func (f *Factory) Provision(name, agentType string) (*Spec, error) {
	if err := ValidateAgentName(name); err != nil {
		return nil, err
	}

	definition, err := agentdef.ReadFile(f.typesDir, agentType)
	if err != nil {
		return nil, fmt.Errorf("loading agent type %q: %w", agentType, err)
	}

	if err := f.checkRuntime(definition.Command[0]); err != nil {
		return nil, err
	}

	home := f.AgentDir(name)
	for _, subdir := range mailboxSubdirs {
		if err := os.MkdirAll(filepath.Join(home, subdir), 0755); err != nil {
			return nil, fmt.Errorf("creating agent directory %s: %w", subdir, err)
		}
	}

	// Clear a leftover sentinel so a restored agent does not read last
	// run's shutdown request.
	sentinel := filepath.Join(home, ControlDirName, SentinelName)
	if err := os.Remove(sentinel); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("clearing stale sentinel: %w", err)
	}

	if definition.CodeTemplate != "" {
		if err := f.refreshCode(home, definition.CodeTemplate); err != nil {
			return nil, err
		}
	}

	spec := &Spec{
		Name: name,
		Type: agentType,
		Home: home,
		Mounts: []Mount{
			{Source: home, Dest: HomeMount, Mode: MountModeRW},
			{Source: filepath.Join(home, "code"), Dest: CodeMount, Mode: MountModeRO},
			{Source: f.sharedDir, Dest: SharedMount, Mode: MountModeRW},
			{Source: f.toolsDir, Dest: ToolsMount, Mode: MountModeRO},
		},
		Environment:      f.environment(name, definition),
		WorkingDirectory: HomeMount,
		Command:          definition.Command,
	}

	f.logger.Info("agent provisioned",
		"agent", name,
		"type", agentType,
		"home", home,
	)
	return spec, nil
}

// ListAgents returns the names of all agents with a provisioned home
// directory, sorted by the filesystem's readdir order (which is
// lexicographic on Linux).
func (f *Factory) ListAgents() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.root, "agents"))
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Remove deletes an agent's entire directory tree. Used only by the
// destructive terminate path and by CreateAgent rollback; routine
// shutdown leaves the tree in place for restoration.
func (f *Factory) Remove(name string) error {
	if err := ValidateAgentName(name); err != nil {
		return err
	}
	if err := os.RemoveAll(f.AgentDir(name)); err != nil {
		return fmt.Errorf("removing agent directory: %w", err)
	}
	f.logger.Info("agent directory removed", "agent", name)
	return nil
}

// environment computes the cleared-then-allow-listed environment for
// an agent. Type-specific variables override the standard set.
func (f *Factory) environment(name string, definition *agentdef.Definition) map[string]string {
	environment := map[string]string{
		"PATH":         ToolsMount + "/bin:/usr/bin:/bin",
		"HOME":         HomeMount,
		"TMPDIR":       "/tmp",
		"AGENT_NAME":   name,
		"AGENT_TYPE":   definition.Type,
		"SWARM_SHARED": SharedMount,
	}
	for key, value := range definition.Environment {
		environment[key] = value
	}
	return environment
}

// checkRuntime verifies that the agent's runtime binary exists on the
// host side of the sandbox mounts. The command runs inside the sandbox
// where /tools is f.toolsDir; paths are translated accordingly.
func (f *Factory) checkRuntime(command string) error {
	var candidates []string
	switch {
	case strings.HasPrefix(command, ToolsMount+"/"):
		candidates = []string{filepath.Join(f.toolsDir, strings.TrimPrefix(command, ToolsMount+"/"))}
	case filepath.IsAbs(command):
		candidates = []string{command}
	default:
		candidates = []string{
			filepath.Join(f.toolsDir, "bin", command),
			filepath.Join("/usr/bin", command),
			filepath.Join("/bin", command),
		}
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return nil
		}
	}
	return &ConfigurationError{
		What: fmt.Sprintf("runtime binary %q not found on host (searched %s)",
			command, strings.Join(candidates, ", ")),
	}
}

// refreshCode replaces the agent's code subtree with a fresh copy of
// the template. Only code/ is replaced; the rest of the home is
// untouched.
func (f *Factory) refreshCode(home, template string) error {
	codeDir := filepath.Join(home, "code")

	entries, err := os.ReadDir(codeDir)
	if err != nil {
		return fmt.Errorf("reading code directory: %w", err)
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(codeDir, entry.Name())); err != nil {
			return fmt.Errorf("clearing code directory: %w", err)
		}
	}

	if err := copyTree(template, codeDir); err != nil {
		return fmt.Errorf("copying code template %s: %w", template, err)
	}
	return nil
}

// copyTree recursively copies regular files and directories from
// source into destination, preserving file modes. Symlinks and other
// special files are skipped: code templates are plain source trees.
func copyTree(source, destination string) error {
	return filepath.WalkDir(source, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		target := filepath.Join(destination, relative)

		if entry.IsDir() {
			if relative == "." {
				return nil
			}
			return os.MkdirAll(target, 0755)
		}
		if !entry.Type().IsRegular() {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(source, destination string, mode os.FileMode) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
