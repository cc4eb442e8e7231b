// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package commands

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/webapp-demo/envctl/config"
	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/domain/lifecycle/service"
	"github.com/webapp-demo/envctl/domain/lifecycle/state"
	"github.com/webapp-demo/envctl/internal/appdeploy"
	"github.com/webapp-demo/envctl/internal/backend"
	"github.com/webapp-demo/envctl/internal/backoff"
	"github.com/webapp-demo/envctl/internal/cleanup"
	"github.com/webapp-demo/envctl/internal/cost"
	"github.com/webapp-demo/envctl/internal/discovery"
	"github.com/webapp-demo/envctl/internal/lock"
	"github.com/webapp-demo/envctl/internal/metrics"
	"github.com/webapp-demo/envctl/internal/notify"
	"github.com/webapp-demo/envctl/internal/provider/azure"
	"github.com/webapp-demo/envctl/internal/provider/docker"
	"github.com/webapp-demo/envctl/internal/provider/terraform"
	"github.com/webapp-demo/envctl/internal/provisioner"
)

const (
	healthTimeout  = 30 * time.Second
	webhookTimeout = 10 * time.Second
)

// stack is the lifecycle service of a project with everything it runs
// on.
type stack struct {
	*service.Service

	state       *state.FileState
	metrics     *metrics.Collector
	metricsFile string
}

// Close writes the metrics of the run, if the project asks for them.
func (s *stack) Close() error {
	if s.metricsFile == "" {
		return nil
	}
	return errors.Trace(s.metrics.WriteTextfile(s.metricsFile))
}

// OpenLifecycle returns the lifecycle API of the project described by
// cfg, talking to Azure with the ambient credentials.
func OpenLifecycle(ctx context.Context, cfg *config.Config) (LifecycleAPI, error) {
	s, err := newStack(ctx, cfg)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return s, nil
}

func newStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	clk := clock.WallClock
	caller := backoff.NewCaller(clk)

	cred, err := azure.NewCredential()
	if err != nil {
		return nil, errors.Trace(err)
	}
	subscriptionID, err := subscription(ctx, cfg, cred)
	if err != nil {
		return nil, errors.Trace(err)
	}
	cloud, err := azure.New(azure.Config{
		SubscriptionID: subscriptionID,
		Credential:     cred,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	st, err := state.NewFileState(cfg.StateDirPath(), cfg.Project)
	if err != nil {
		return nil, errors.Trace(err)
	}
	tf, err := terraform.NewRunner(terraform.Config{
		WorkingDir: cfg.TerraformDir,
		Binary:     cfg.TerraformBinary,
		DataDir:    st.TerraformDataDir(),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	discoverer, err := discovery.NewDiscoverer(discovery.Config{
		State:    tf,
		Provider: cloud,
		Clock:    clk,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	bootstrapper, err := backend.NewBootstrapper(cloud, caller)
	if err != nil {
		return nil, errors.Trace(err)
	}
	prov, err := provisioner.NewProvisioner(provisioner.Config{
		Terraform: tf,
		Caller:    caller,
		PlanDir:   st.PlansDir(),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	deployer, err := appdeploy.NewDeployer(appdeploy.Config{
		Builder:    docker.NewBuilder(docker.DefaultRunner),
		Compute:    cloud,
		HTTP:       &http.Client{Timeout: healthTimeout},
		Caller:     caller,
		Clock:      clk,
		HealthPath: cfg.HealthPath,
		HealthWait: cfg.HealthWait,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	executor, err := cleanup.NewExecutor(cleanup.Config{
		Destroyer: prov,
		Sweeper:   cloud,
		Inventory: discoverer,
		Caller:    caller,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	monitor, err := cost.NewMonitor(cost.MonitorConfig{
		Project:   cfg.Project,
		Billing:   cloud,
		Inventory: discoverer,
		Clock:     clk,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	notifier, err := notify.New(cfg.WebhookURL, &http.Client{Timeout: webhookTimeout}, clk)
	if err != nil {
		return nil, errors.Trace(err)
	}
	collector := metrics.NewMetricsCollector()

	svc, err := service.NewService(service.Config{
		Project: cfg.Project,
		Environments: func(name environment.Name) (environment.Environment, error) {
			return cfg.Environment(name, subscriptionID)
		},
		Image: service.ImageSettings{
			Repository: cfg.Image.Repository,
			Context:    cfg.Image.Context,
			Dockerfile: cfg.Image.Dockerfile,
		},
		Policy:      cfg.OnValidateFail,
		State:       st,
		Locks:       lock.NewRegistry(cfg.Project, clk),
		Discovery:   discoverer,
		Backend:     bootstrapper,
		Provisioner: prov,
		App:         deployer,
		Cleanup:     executor,
		Cost:        monitor,
		Notifier:    notifier,
		Metrics:     collector,
		Clock:       clk,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &stack{
		Service:     svc,
		state:       st,
		metrics:     collector,
		metricsFile: cfg.MetricsFile,
	}, nil
}

// subscription returns the subscription to work in: the configured
// one, then $AZURE_SUBSCRIPTION_ID, then the only one the credential
// can see.
func subscription(ctx context.Context, cfg *config.Config, cred azcore.TokenCredential) (string, error) {
	if cfg.SubscriptionID != "" {
		return cfg.SubscriptionID, nil
	}
	if id := os.Getenv(config.SubscriptionEnvKey); id != "" {
		return id, nil
	}
	id, err := azure.DefaultSubscription(ctx, cred, nil)
	return id, errors.Trace(err)
}
