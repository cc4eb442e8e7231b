// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package docker builds and pushes the application image with the
// docker and az command line tools.
package docker

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/utils/v4/exec"
	"github.com/kballard/go-shellquote"

	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/internal/appdeploy"
)

var logger = loggo.GetLogger("envctl.provider.docker")

// CommandRunner runs shell commands.
type CommandRunner interface {
	RunCommands(run exec.RunParams) (*exec.ExecResponse, error)
}

type defaultRunner struct{}

func (defaultRunner) RunCommands(run exec.RunParams) (*exec.ExecResponse, error) {
	return exec.RunCommands(run)
}

// DefaultRunner runs commands on the local machine.
var DefaultRunner CommandRunner = defaultRunner{}

// Builder implements appdeploy.Builder.
type Builder struct {
	runner CommandRunner
	docker string
	az     string
}

// NewBuilder returns a Builder running commands through runner.
func NewBuilder(runner CommandRunner) *Builder {
	return &Builder{
		runner: runner,
		docker: "docker",
		az:     "az",
	}
}

// Login authenticates docker against the named container registry.
func (b *Builder) Login(ctx context.Context, registryName string) error {
	_, err := b.run(ctx, "", b.az, "acr", "login", "--name", registryName)
	return errors.Annotatef(err, "logging in to registry %s", registryName)
}

// Build builds the image described by spec.
func (b *Builder) Build(ctx context.Context, spec appdeploy.ImageSpec) error {
	args := []string{"build", "--tag", spec.Ref().String()}
	if spec.Dockerfile != "" {
		dockerfile := spec.Dockerfile
		if !filepath.IsAbs(dockerfile) {
			dockerfile = filepath.Join(spec.Context, dockerfile)
		}
		args = append(args, "--file", dockerfile)
	}
	args = append(args, spec.Context)
	logger.Infof("building %s", spec.Ref())
	_, err := b.run(ctx, spec.Context, b.docker, args...)
	return errors.Annotatef(err, "building %s", spec.Ref())
}

// Push pushes ref to its registry.
func (b *Builder) Push(ctx context.Context, ref appdeploy.ImageRef) error {
	logger.Infof("pushing %s", ref)
	_, err := b.run(ctx, "", b.docker, "push", ref.String())
	return errors.Annotatef(err, "pushing %s", ref)
}

func (b *Builder) run(ctx context.Context, dir, name string, args ...string) (*exec.ExecResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	command := shellquote.Join(append([]string{name}, args...)...)
	logger.Debugf("running %s", command)
	resp, err := b.runner.RunCommands(exec.RunParams{
		Commands:   command,
		WorkingDir: dir,
	})
	if err != nil {
		return nil, errors.Annotatef(err, "running %s", name)
	}
	if resp.Code != 0 {
		return resp, commandError(name, resp)
	}
	return resp, nil
}

// commandError describes a failed command, classifying the failures
// the lifecycle can act on.
func commandError(name string, resp *exec.ExecResponse) error {
	stderr := strings.TrimSpace(string(resp.Stderr))
	err := errors.Errorf("%s exited %d: %s", name, resp.Code, stderr)
	lower := strings.ToLower(stderr)
	switch {
	case containsAny(lower, "unauthorized", "authentication required", "az login", "denied: requested access"):
		return failure.WithKind(err, failure.AuthError)
	case containsAny(lower, "toomanyrequests", "i/o timeout", "connection reset", "tls handshake timeout", "503 service unavailable"):
		return failure.WithKind(err, failure.TransientProviderError)
	}
	return err
}

func containsAny(s string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
