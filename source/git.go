// Package source keeps a local git checkout of the definition repository
// up to date using the git CLI.
package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/dcshock/defsync/pipeline"
)

// Config locates the remote repository and the local checkout.
type Config struct {
	URL    string
	Dir    string
	Remote string
	Branch string
	// Username and Password, when set, are sent as HTTP basic auth on every
	// command. They are never written to the repository config.
	Username string
	Password string
}

// Git implements pipeline.SourceSync over a git checkout.
type Git struct {
	cfg    Config
	logger *slog.Logger
}

var _ pipeline.SourceSync = (*Git)(nil)

// New returns a Git source. Remote defaults to "origin".
func New(cfg Config, logger *slog.Logger) *Git {
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{cfg: cfg, logger: logger}
}

// Dir returns the checkout directory.
func (g *Git) Dir() string { return g.cfg.Dir }

// Fetch opens the existing checkout, cloning it first if the directory
// holds no repository.
func (g *Git) Fetch(ctx context.Context) (pipeline.VersionID, error) {
	if _, err := os.Stat(filepath.Join(g.cfg.Dir, ".git")); err == nil {
		g.logger.Debug("opening existing checkout", "dir", g.cfg.Dir)
		return g.head(ctx)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("open checkout %s: %w", g.cfg.Dir, err)
	}

	if err := os.MkdirAll(filepath.Dir(g.cfg.Dir), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", g.cfg.Dir, err)
	}
	args := []string{"clone", "--origin", g.cfg.Remote}
	if g.cfg.Branch != "" {
		args = append(args, "--branch", g.cfg.Branch)
	}
	args = append(args, "--", g.cfg.URL, g.cfg.Dir)
	g.logger.Info("cloning repository", "url", g.cfg.URL, "dir", g.cfg.Dir, "branch", g.cfg.Branch)
	if _, err := g.run(ctx, "", args...); err != nil {
		// A failed clone can leave a partial directory behind.
		_ = os.RemoveAll(g.cfg.Dir)
		return "", pipeline.RetryableErr(err)
	}
	return g.head(ctx)
}

// Update fetches the configured branch and moves the checkout to it,
// discarding local changes.
func (g *Git) Update(ctx context.Context) (pipeline.VersionID, error) {
	branch := g.cfg.Branch
	if branch == "" {
		branch = "HEAD"
	}
	if _, err := g.run(ctx, g.cfg.Dir, "fetch", "--quiet", g.cfg.Remote, branch); err != nil {
		return "", pipeline.RetryableErr(err)
	}
	if _, err := g.run(ctx, g.cfg.Dir, "reset", "--quiet", "--hard", "FETCH_HEAD"); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, g.cfg.Dir, "clean", "-fdq"); err != nil {
		return "", err
	}
	return g.head(ctx)
}

func (g *Git) head(ctx context.Context) (pipeline.VersionID, error) {
	out, err := g.run(ctx, g.cfg.Dir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("read version: %w", err)
	}
	return pipeline.VersionID(strings.TrimSpace(out)), nil
}

// run executes git with args, targeting dir via -C when dir is set. The
// credential header travels in the environment, out of argv and errors.
func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	env := append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	if g.cfg.Username != "" || g.cfg.Password != "" {
		// Config passed through the environment stays out of the process
		// table. Requires git 2.31 or later.
		token := base64.StdEncoding.EncodeToString([]byte(g.cfg.Username + ":" + g.cfg.Password))
		env = append(env,
			"GIT_CONFIG_COUNT=1",
			"GIT_CONFIG_KEY_0=http.extraHeader",
			"GIT_CONFIG_VALUE_0=Authorization: Basic "+token,
		)
	}
	var full []string
	if dir != "" {
		full = append(full, "-C", dir)
	}
	full = append(full, args...)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", full...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = env
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
