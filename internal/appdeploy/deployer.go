// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package appdeploy ships the application container onto the
// provisioned compute and checks that it serves.
package appdeploy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/retry"

	"github.com/webapp-demo/envctl/core/failure"
	"github.com/webapp-demo/envctl/internal/backoff"
	"github.com/webapp-demo/envctl/internal/provisioner"
)

var logger = loggo.GetLogger("envctl.appdeploy")

const (
	// DefaultHealthPath is checked after every deploy.
	DefaultHealthPath = "/healthz"
	// DatabaseValidationPath reports whether the app reads its database.
	DatabaseValidationPath = "/db-validate"

	DefaultHealthWait     = 30 * time.Second
	DefaultHealthAttempts = 10
	DefaultHealthDelay    = 10 * time.Second
)

// RequiredOutputs are the terraform outputs TargetFromOutputs reads.
// They must all be produced by the infrastructure module.
var RequiredOutputs = []string{
	provisioner.OutputResourceGroup,
	provisioner.OutputWebAppName,
	provisioner.OutputWebAppURL,
	provisioner.OutputRegistryServer,
}

// Target is the compute the application runs on.
type Target struct {
	ResourceGroup string
	WebApp        string
	URL           string
	Registry      string
	RegistryName  string
}

// TargetFromOutputs returns the deploy target described by terraform
// outputs.
func TargetFromOutputs(out provisioner.Outputs) (Target, error) {
	if err := out.Require(RequiredOutputs...); err != nil {
		return Target{}, errors.Trace(err)
	}
	url := out[provisioner.OutputWebAppURL]
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "https://" + url
	}
	return Target{
		ResourceGroup: out[provisioner.OutputResourceGroup],
		WebApp:        out[provisioner.OutputWebAppName],
		URL:           strings.TrimSuffix(url, "/"),
		Registry:      out[provisioner.OutputRegistryServer],
		RegistryName:  out[provisioner.OutputRegistryName],
	}, nil
}

// Builder builds and publishes container images.
type Builder interface {
	Login(ctx context.Context, registryName string) error
	Build(ctx context.Context, spec ImageSpec) error
	Push(ctx context.Context, ref ImageRef) error
}

// Compute updates the container running on a web app.
type Compute interface {
	SetContainerImage(ctx context.Context, resourceGroup, webApp, image string) error
	Restart(ctx context.Context, resourceGroup, webApp string) error
}

// HTTPClient is satisfied by *http.Client.
type HTTPClient interface {
	Do(*http.Request) (*http.Response, error)
}

// Config holds the dependencies and health check settings of a Deployer.
type Config struct {
	Builder Builder
	Compute Compute
	HTTP    HTTPClient
	Caller  backoff.Caller
	Clock   clock.Clock

	HealthPath string
	// HealthWait is the pause before the first health check, giving the web
	// app time to pull the image.
	HealthWait     time.Duration
	HealthAttempts int
	HealthDelay    time.Duration
}

// Validate returns an error if config cannot drive a Deployer.
func (config Config) Validate() error {
	if config.Builder == nil {
		return errors.NotValidf("nil Builder")
	}
	if config.Compute == nil {
		return errors.NotValidf("nil Compute")
	}
	if config.HTTP == nil {
		return errors.NotValidf("nil HTTP")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Caller.Clock == nil {
		return errors.NotValidf("nil Caller.Clock")
	}
	if config.HealthWait < 0 || config.HealthDelay < 0 || config.HealthAttempts < 0 {
		return errors.NotValidf("negative health check setting")
	}
	return nil
}

// Deployer is the ApplicationDeployer.
type Deployer struct {
	config Config
}

// NewDeployer returns a Deployer, filling in health check defaults.
func NewDeployer(config Config) (*Deployer, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.HealthPath == "" {
		config.HealthPath = DefaultHealthPath
	}
	if config.HealthAttempts == 0 {
		config.HealthAttempts = DefaultHealthAttempts
	}
	if config.HealthDelay == 0 {
		config.HealthDelay = DefaultHealthDelay
	}
	return &Deployer{config: config}, nil
}

// BuildAndPush builds the image described by spec and pushes it.
func (d *Deployer) BuildAndPush(ctx context.Context, spec ImageSpec) (ImageRef, error) {
	if err := spec.Validate(); err != nil {
		return ImageRef{}, errors.Trace(err)
	}
	ref := spec.Ref()
	if spec.RegistryName != "" {
		err := d.config.Caller.Call(ctx, "registry login", func(ctx context.Context) error {
			return d.config.Builder.Login(ctx, spec.RegistryName)
		})
		if err != nil {
			return ImageRef{}, errors.Annotatef(err, "logging in to %s", spec.RegistryName)
		}
	}
	logger.Infof("building %s", ref)
	if err := d.config.Builder.Build(ctx, spec); err != nil {
		return ImageRef{}, errors.Annotatef(err, "building %s", ref)
	}
	err := d.config.Caller.Call(ctx, "image push", func(ctx context.Context) error {
		return d.config.Builder.Push(ctx, ref)
	})
	if err != nil {
		return ImageRef{}, errors.Annotatef(err, "pushing %s", ref)
	}
	return ref, nil
}

// UpdateCompute points the web app at ref and restarts it.
func (d *Deployer) UpdateCompute(ctx context.Context, target Target, ref ImageRef) error {
	if ref.IsZero() {
		return errors.NotValidf("empty image reference")
	}
	logger.Infof("updating %s to %s", target.WebApp, ref)
	err := d.config.Caller.Call(ctx, "set container image", func(ctx context.Context) error {
		return d.config.Compute.SetContainerImage(ctx, target.ResourceGroup, target.WebApp, ref.String())
	})
	if err != nil {
		return errors.Annotatef(err, "updating web app %q", target.WebApp)
	}
	err = d.config.Caller.Call(ctx, "restart web app", func(ctx context.Context) error {
		return d.config.Compute.Restart(ctx, target.ResourceGroup, target.WebApp)
	})
	return errors.Annotatef(err, "restarting web app %q", target.WebApp)
}

// CheckHealth waits for the app to come up and polls its health
// endpoint with bounded retries. A failed check is reported as a
// ValidationWarning: the deployment stays in place.
func (d *Deployer) CheckHealth(ctx context.Context, baseURL string) error {
	if d.config.HealthWait > 0 {
		select {
		case <-d.config.Clock.After(d.config.HealthWait):
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		}
	}
	url := strings.TrimSuffix(baseURL, "/") + d.config.HealthPath
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			return d.getStatus(ctx, url, "ok")
		},
		NotifyFunc: func(err error, attempt int) {
			logger.Debugf("health check attempt %d: %v", attempt, err)
		},
		Attempts: d.config.HealthAttempts,
		Delay:    d.config.HealthDelay,
		Clock:    d.config.Clock,
		Stop:     ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return errors.Trace(ctx.Err())
	}
	if retry.IsAttemptsExceeded(err) {
		err = retry.LastError(err)
	}
	return failure.WithKind(
		errors.Annotatef(err, "health check of %s failed after %d attempts", url, d.config.HealthAttempts),
		failure.ValidationWarning,
	)
}

// Validate runs the post-deploy checks against the app: it must be
// healthy and must serve data from its database. Failures are
// ValidationWarnings.
func (d *Deployer) Validate(ctx context.Context, baseURL string) error {
	base := strings.TrimSuffix(baseURL, "/")
	checks := []struct {
		path string
		want string
	}{
		{d.config.HealthPath, "ok"},
		{DatabaseValidationPath, "success"},
	}
	var failed []string
	for _, check := range checks {
		if err := d.getStatus(ctx, base+check.path, check.want); err != nil {
			if ctx.Err() != nil {
				return errors.Trace(ctx.Err())
			}
			failed = append(failed, err.Error())
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return failure.WithKind(
		errors.Errorf("validation failed: %s", strings.Join(failed, "; ")),
		failure.ValidationWarning,
	)
}

type statusBody struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// getStatus GETs url and expects a 200 response whose JSON status field is
// want.
func (d *Deployer) getStatus(ctx context.Context, url, want string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Trace(err)
	}
	resp, err := d.config.HTTP.Do(req)
	if err != nil {
		return errors.Trace(err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return errors.Annotatef(err, "reading %s", url)
	}
	var body statusBody
	_ = json.Unmarshal(data, &body)
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("GET %s: %s", url, resp.Status)
		if body.Error != "" {
			msg += ": " + body.Error
		}
		return errors.New(msg)
	}
	if body.Status != want {
		return errors.Errorf("GET %s: status %q, want %q", url, body.Status, want)
	}
	return nil
}
