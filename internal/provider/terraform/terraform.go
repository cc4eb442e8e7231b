// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package terraform drives the terraform binary for the provisioner,
// the cleanup executor and resource discovery.
package terraform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/terraform-exec/tfexec"
	tfjson "github.com/hashicorp/terraform-json"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/core/inventory"
)

var logger = loggo.GetLogger("envctl.provider.terraform")

// DefaultLockTimeout is how long terraform waits for the state lock.
const DefaultLockTimeout = 5 * time.Minute

// executor is the part of *tfexec.Terraform the runner uses.
type executor interface {
	SetEnv(map[string]string) error
	SetStdout(io.Writer)
	SetStderr(io.Writer)
	Init(context.Context, ...tfexec.InitOption) error
	Plan(context.Context, ...tfexec.PlanOption) (bool, error)
	ShowPlanFile(context.Context, string, ...tfexec.ShowOption) (*tfjson.Plan, error)
	Show(context.Context, ...tfexec.ShowOption) (*tfjson.State, error)
	Apply(context.Context, ...tfexec.ApplyOption) error
	Destroy(context.Context, ...tfexec.DestroyOption) error
	Output(context.Context, ...tfexec.OutputOption) (map[string]tfexec.OutputMeta, error)
}

// Config holds the settings of a Runner.
type Config struct {
	// WorkingDir holds the root terraform module.
	WorkingDir string
	// Binary is the terraform executable, looked up in $PATH unless
	// it is a path.
	Binary string
	// DataDir holds one terraform data directory per environment, so
	// environments can be worked on concurrently.
	DataDir     string
	LockTimeout time.Duration
	// Output receives terraform's stdout. It may be nil.
	Output io.Writer
}

// Validate returns an error if config cannot drive a Runner.
func (config Config) Validate() error {
	if config.WorkingDir == "" {
		return errors.NotValidf("empty WorkingDir")
	}
	if config.Binary == "" {
		return errors.NotValidf("empty Binary")
	}
	if config.DataDir == "" {
		return errors.NotValidf("empty DataDir")
	}
	if config.LockTimeout < 0 {
		return errors.NotValidf("negative LockTimeout")
	}
	return nil
}

// Runner runs terraform against the environments of a project.
type Runner struct {
	config      Config
	execPath    string
	newExecutor func(workingDir, execPath string) (executor, error)
}

// NewRunner returns a Runner, or an error if the terraform binary
// cannot be found.
func NewRunner(config Config) (*Runner, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.LockTimeout == 0 {
		config.LockTimeout = DefaultLockTimeout
	}
	execPath := config.Binary
	if filepath.Base(execPath) == execPath {
		path, err := exec.LookPath(execPath)
		if err != nil {
			return nil, errors.NewNotFound(err, "terraform binary")
		}
		execPath = path
	}
	return &Runner{
		config:   config,
		execPath: execPath,
		newExecutor: func(workingDir, execPath string) (executor, error) {
			return tfexec.NewTerraform(workingDir, execPath)
		},
	}, nil
}

// diagnosedError carries terraform's stderr along with its failure.
type diagnosedError struct {
	err    error
	stderr string
}

func (e *diagnosedError) Error() string {
	return e.err.Error()
}

func (e *diagnosedError) Unwrap() error {
	return e.err
}

// Diagnostics returns what terraform printed on stderr.
func (e *diagnosedError) Diagnostics() string {
	return e.stderr
}

func (r *Runner) dataDir(env environment.Environment) string {
	return filepath.Join(r.config.DataDir, string(env.Name))
}

// run calls f with an executor bound to env's data directory and
// attaches stderr to any error f returns.
func (r *Runner) run(env environment.Environment, f func(executor) error) error {
	dataDir := r.dataDir(env)
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return errors.Trace(err)
	}
	tf, err := r.newExecutor(r.config.WorkingDir, r.execPath)
	if err != nil {
		return errors.Trace(err)
	}
	if err := tf.SetEnv(map[string]string{"TF_DATA_DIR": dataDir}); err != nil {
		return errors.Trace(err)
	}
	var stderr bytes.Buffer
	tf.SetStderr(&stderr)
	if r.config.Output != nil {
		tf.SetStdout(r.config.Output)
	}
	if err := f(tf); err != nil {
		return &diagnosedError{err: err, stderr: stderr.String()}
	}
	return nil
}

func (r *Runner) lockTimeout() string {
	return r.config.LockTimeout.String()
}

// varFile returns env's variable file, or "" if it does not exist.
func (r *Runner) varFile(env environment.Environment) string {
	if env.VarFile == "" {
		return ""
	}
	path := env.VarFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.config.WorkingDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		logger.Debugf("no variable file %s for %s", path, env.Name)
		return ""
	}
	return path
}

// vars returns env's variables as sorted name=value pairs.
func vars(env environment.Environment) []string {
	result := make([]string, 0, len(env.Variables))
	for k, v := range env.Variables {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

func backendConfig(env environment.Environment) []string {
	settings := env.Backend.Settings()
	result := make([]string, 0, len(settings))
	for k, v := range settings {
		result = append(result, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(result)
	return result
}

// Init initialises env's data directory against its state backend.
func (r *Runner) Init(ctx context.Context, env environment.Environment) error {
	opts := []tfexec.InitOption{tfexec.Reconfigure(true)}
	for _, kv := range backendConfig(env) {
		opts = append(opts, tfexec.BackendConfig(kv))
	}
	logger.Debugf("terraform init for %s", env.Name)
	return r.run(env, func(tf executor) error {
		return tf.Init(ctx, opts...)
	})
}

// Plan writes a plan for env to planFile.
func (r *Runner) Plan(ctx context.Context, env environment.Environment, planFile string) (bool, error) {
	opts := []tfexec.PlanOption{
		tfexec.Out(planFile),
		tfexec.LockTimeout(r.lockTimeout()),
	}
	if file := r.varFile(env); file != "" {
		opts = append(opts, tfexec.VarFile(file))
	}
	for _, kv := range vars(env) {
		opts = append(opts, tfexec.Var(kv))
	}
	var changes bool
	err := r.run(env, func(tf executor) error {
		var err error
		changes, err = tf.Plan(ctx, opts...)
		return err
	})
	return changes, err
}

// ShowPlan decodes planFile.
func (r *Runner) ShowPlan(ctx context.Context, env environment.Environment, planFile string) (*tfjson.Plan, error) {
	var plan *tfjson.Plan
	err := r.run(env, func(tf executor) error {
		var err error
		plan, err = tf.ShowPlanFile(ctx, planFile)
		return err
	})
	return plan, err
}

// Apply applies planFile.
func (r *Runner) Apply(ctx context.Context, env environment.Environment, planFile string) error {
	return r.run(env, func(tf executor) error {
		return tf.Apply(ctx, tfexec.DirOrPlan(planFile), tfexec.LockTimeout(r.lockTimeout()))
	})
}

// Destroy destroys everything in env's state. The data directory is
// initialised first, as a scheduled cleanup may run in a fresh process.
func (r *Runner) Destroy(ctx context.Context, env environment.Environment) error {
	if err := r.Init(ctx, env); err != nil {
		return errors.Trace(err)
	}
	opts := []tfexec.DestroyOption{tfexec.LockTimeout(r.lockTimeout())}
	if file := r.varFile(env); file != "" {
		opts = append(opts, tfexec.VarFile(file))
	}
	for _, kv := range vars(env) {
		opts = append(opts, tfexec.Var(kv))
	}
	return r.run(env, func(tf executor) error {
		return tf.Destroy(ctx, opts...)
	})
}

// Outputs returns env's root module outputs.
func (r *Runner) Outputs(ctx context.Context, env environment.Environment) (map[string]string, error) {
	var meta map[string]tfexec.OutputMeta
	err := r.run(env, func(tf executor) error {
		var err error
		meta, err = tf.Output(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return outputStrings(meta)
}

// outputStrings flattens outputs to strings. String values are
// unquoted, anything else is kept as JSON.
func outputStrings(meta map[string]tfexec.OutputMeta) (map[string]string, error) {
	result := make(map[string]string, len(meta))
	for name, m := range meta {
		var s string
		if err := json.Unmarshal(m.Value, &s); err == nil {
			result[name] = s
			continue
		}
		if len(m.Value) == 0 {
			return nil, errors.NotValidf("empty output %q", name)
		}
		result[name] = string(m.Value)
	}
	return result, nil
}

// settingTypes are azurerm resources that configure another resource
// rather than exist in Azure on their own.
var settingTypes = set.NewStrings(
	"azurerm_key_vault_access_policy",
	"azurerm_mssql_firewall_rule",
	"azurerm_sql_firewall_rule",
	"azurerm_role_assignment",
	"azurerm_monitor_diagnostic_setting",
	"azurerm_app_service_virtual_network_swift_connection",
)

// azureResource reports whether a managed resource of type tfType with
// the given id is an Azure resource of its own.
func azureResource(tfType, id string) bool {
	return strings.HasPrefix(tfType, "azurerm_") &&
		!settingTypes.Contains(tfType) &&
		strings.HasPrefix(strings.ToLower(id), "/subscriptions/")
}

// StateResources lists the Azure resources recorded in env's state.
// Resources of other providers and settings of Azure resources are
// left out.
// An environment never initialised here returns a NotFound error.
func (r *Runner) StateResources(ctx context.Context, env environment.Environment) ([]inventory.Entry, error) {
	if _, err := os.Stat(filepath.Join(r.dataDir(env), "terraform.tfstate")); err != nil {
		return nil, errors.NotFoundf("terraform state of %s", env.Name)
	}
	var state *tfjson.State
	err := r.run(env, func(tf executor) error {
		var err error
		state, err = tf.Show(ctx)
		return err
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return stateEntries(state), nil
}

func stateEntries(state *tfjson.State) []inventory.Entry {
	if state == nil || state.Values == nil || state.Values.RootModule == nil {
		return nil
	}
	var entries []inventory.Entry
	var walk func(*tfjson.StateModule)
	walk = func(m *tfjson.StateModule) {
		for _, res := range m.Resources {
			if res == nil || res.Mode != tfjson.ManagedResourceMode {
				continue
			}
			id, _ := res.AttributeValues["id"].(string)
			if !azureResource(res.Type, id) {
				continue
			}
			entry := inventory.Entry{
				Type: inventory.TypeFromTerraform(res.Type),
				Name: res.Name,
				ID:   id,
			}
			if name, ok := res.AttributeValues["name"].(string); ok && name != "" {
				entry.Name = name
			}
			entries = append(entries, entry)
		}
		for _, child := range m.ChildModules {
			if child != nil {
				walk(child)
			}
		}
	}
	walk(state.Values.RootModule)
	return entries
}
