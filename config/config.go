// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads the project configuration, envctl.yaml.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/juju/loggo"
	"github.com/juju/schema"
	"gopkg.in/yaml.v3"

	"github.com/webapp-demo/envctl/core/environment"
	"github.com/webapp-demo/envctl/domain/lifecycle"
)

var logger = loggo.GetLogger("envctl.config")

// Attribute names of envctl.yaml.
const (
	ProjectKey         = "project"
	LocationKey        = "location"
	SubscriptionIDKey  = "subscription-id"
	TerraformDirKey    = "terraform-dir"
	TerraformBinaryKey = "terraform-binary"
	EnvironmentsKey    = "environments"
	ImageKey           = "image"
	BudgetKey          = "budget"
	OnValidateFailKey  = "on-validate-fail"
	WebhookURLKey      = "webhook-url"
	HealthPathKey      = "health-path"
	HealthWaitKey      = "health-wait"
	StateDirKey        = "state-dir"
	MetricsFileKey     = "metrics-file"

	VarFileKey    = "var-file"
	VariablesKey  = "variables"
	RepositoryKey = "repository"
	ContextKey    = "context"
	DockerfileKey = "dockerfile"
)

// Defaults of the optional attributes.
const (
	DefaultLocation        = "eastus"
	DefaultTerraformDir    = "terraform"
	DefaultTerraformBinary = "terraform"
	DefaultRepository      = "webapp"
	DefaultImageContext    = "app"
	DefaultDockerfile      = "Dockerfile"
	DefaultHealthPath      = "/healthz"
	DefaultHealthWait      = 30 * time.Second
)

var environmentChecker = schema.FieldMap(schema.Fields{
	VarFileKey:   schema.String(),
	LocationKey:  schema.String(),
	VariablesKey: schema.StringMap(schema.String()),
}, schema.Defaults{
	VarFileKey:   schema.Omit,
	LocationKey:  schema.Omit,
	VariablesKey: schema.Omit,
})

var imageChecker = schema.FieldMap(schema.Fields{
	RepositoryKey: schema.String(),
	ContextKey:    schema.String(),
	DockerfileKey: schema.String(),
}, schema.Defaults{
	RepositoryKey: DefaultRepository,
	ContextKey:    DefaultImageContext,
	DockerfileKey: DefaultDockerfile,
})

var configChecker = schema.FieldMap(schema.Fields{
	ProjectKey:         schema.NonEmptyString(ProjectKey),
	LocationKey:        schema.String(),
	SubscriptionIDKey:  schema.String(),
	TerraformDirKey:    schema.String(),
	TerraformBinaryKey: schema.String(),
	EnvironmentsKey:    schema.StringMap(environmentChecker),
	ImageKey:           imageChecker,
	BudgetKey:          schema.OneOf(schema.Float(), schema.Int()),
	OnValidateFailKey:  schema.String(),
	WebhookURLKey:      schema.String(),
	HealthPathKey:      schema.String(),
	HealthWaitKey:      schema.TimeDuration(),
	StateDirKey:        schema.String(),
	MetricsFileKey:     schema.String(),
}, schema.Defaults{
	LocationKey:        DefaultLocation,
	SubscriptionIDKey:  schema.Omit,
	TerraformDirKey:    DefaultTerraformDir,
	TerraformBinaryKey: DefaultTerraformBinary,
	EnvironmentsKey:    schema.Omit,
	ImageKey:           map[string]interface{}{},
	BudgetKey:          schema.Omit,
	OnValidateFailKey:  string(lifecycle.LeaveRunning),
	WebhookURLKey:      schema.Omit,
	HealthPathKey:      DefaultHealthPath,
	HealthWaitKey:      DefaultHealthWait,
	StateDirKey:        schema.Omit,
	MetricsFileKey:     schema.Omit,
})

// EnvironmentConfig holds the per environment overrides.
type EnvironmentConfig struct {
	VarFile   string
	Location  string
	Variables map[string]string
}

// ImageConfig describes how the application image is built.
type ImageConfig struct {
	Repository string
	Context    string
	Dockerfile string
}

// Config holds the validated project configuration.
type Config struct {
	Project         string
	Location        string
	SubscriptionID  string
	TerraformDir    string
	TerraformBinary string
	Environments    map[environment.Name]EnvironmentConfig
	Image           ImageConfig
	Budget          float64
	OnValidateFail  lifecycle.ValidatePolicy
	WebhookURL      string
	HealthPath      string
	HealthWait      time.Duration
	StateDir        string
	MetricsFile     string
}

// Read reads and validates the configuration file at path. Relative
// paths in the file are resolved against its directory.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.NotFoundf("config file %q", path)
	} else if err != nil {
		return nil, errors.Trace(err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Annotatef(err, "reading %s", path)
	}
	base := filepath.Dir(path)
	cfg.TerraformDir = resolve(base, cfg.TerraformDir)
	cfg.Image.Context = resolve(base, cfg.Image.Context)
	if cfg.StateDir != "" {
		cfg.StateDir = resolve(base, cfg.StateDir)
	}
	if cfg.MetricsFile != "" {
		cfg.MetricsFile = resolve(base, cfg.MetricsFile)
	}
	logger.Debugf("read config of project %q from %s", cfg.Project, path)
	return cfg, nil
}

func resolve(base, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// Parse parses and validates a configuration document.
func Parse(data []byte) (*Config, error) {
	var attrs map[string]interface{}
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, errors.NotValidf("config: %v", err)
	}
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return New(attrs)
}

// New returns the configuration described by attrs, filling in
// defaults. Unknown attributes are rejected.
func New(attrs map[string]interface{}) (*Config, error) {
	for k := range attrs {
		if !knownKey(k) {
			return nil, errors.NotValidf("unknown config attribute %q", k)
		}
	}
	coerced, err := configChecker.Coerce(attrs, nil)
	if err != nil {
		return nil, errors.NewNotValid(err, "config")
	}
	m := coerced.(map[string]interface{})

	cfg := &Config{
		Project:         m[ProjectKey].(string),
		Location:        m[LocationKey].(string),
		SubscriptionID:  asString(m, SubscriptionIDKey),
		TerraformDir:    m[TerraformDirKey].(string),
		TerraformBinary: m[TerraformBinaryKey].(string),
		Environments:    make(map[environment.Name]EnvironmentConfig),
		OnValidateFail:  lifecycle.ValidatePolicy(m[OnValidateFailKey].(string)),
		WebhookURL:      asString(m, WebhookURLKey),
		HealthPath:      m[HealthPathKey].(string),
		HealthWait:      m[HealthWaitKey].(time.Duration),
		StateDir:        asString(m, StateDirKey),
		MetricsFile:     asString(m, MetricsFileKey),
	}
	switch budget := m[BudgetKey].(type) {
	case float64:
		cfg.Budget = budget
	case int64:
		cfg.Budget = float64(budget)
	}

	image := m[ImageKey].(map[string]interface{})
	cfg.Image = ImageConfig{
		Repository: image[RepositoryKey].(string),
		Context:    image[ContextKey].(string),
		Dockerfile: image[DockerfileKey].(string),
	}

	if envs, ok := m[EnvironmentsKey].(map[string]interface{}); ok {
		for key, value := range envs {
			name, err := environment.ParseName(key)
			if err != nil {
				return nil, errors.Annotate(err, "config environments")
			}
			attrs := value.(map[string]interface{})
			envCfg := EnvironmentConfig{
				VarFile:  asString(attrs, VarFileKey),
				Location: asString(attrs, LocationKey),
			}
			if vars, ok := attrs[VariablesKey].(map[string]interface{}); ok {
				envCfg.Variables = make(map[string]string, len(vars))
				for k, v := range vars {
					envCfg.Variables[k] = v.(string)
				}
			}
			cfg.Environments[name] = envCfg
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return cfg, nil
}

func knownKey(key string) bool {
	switch key {
	case ProjectKey, LocationKey, SubscriptionIDKey, TerraformDirKey,
		TerraformBinaryKey, EnvironmentsKey, ImageKey, BudgetKey,
		OnValidateFailKey, WebhookURLKey, HealthPathKey, HealthWaitKey,
		StateDirKey, MetricsFileKey:
		return true
	}
	return false
}

func asString(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// Validate returns a NotValid error if the configuration cannot be
// used.
func (c *Config) Validate() error {
	if err := environment.ValidateProject(c.Project); err != nil {
		return errors.Trace(err)
	}
	if c.Location == "" {
		return errors.NotValidf("empty %s", LocationKey)
	}
	if c.Budget < 0 {
		return errors.NotValidf("negative %s %v", BudgetKey, c.Budget)
	}
	if err := c.OnValidateFail.Validate(); err != nil {
		return errors.Trace(err)
	}
	if !strings.HasPrefix(c.HealthPath, "/") {
		return errors.NotValidf("%s %q without leading slash", HealthPathKey, c.HealthPath)
	}
	if c.HealthWait < 0 {
		return errors.NotValidf("negative %s %v", HealthWaitKey, c.HealthWait)
	}
	if c.Image.Repository == "" {
		return errors.NotValidf("empty image %s", RepositoryKey)
	}
	if c.WebhookURL != "" && !strings.HasPrefix(c.WebhookURL, "https://") && !strings.HasPrefix(c.WebhookURL, "http://") {
		return errors.NotValidf("%s %q", WebhookURLKey, c.WebhookURL)
	}
	return nil
}

// Environment returns the named environment of the project. The state
// backend account name derives from subscriptionID.
func (c *Config) Environment(name environment.Name, subscriptionID string) (environment.Environment, error) {
	overrides := c.Environments[name]
	location := c.Location
	if overrides.Location != "" {
		location = overrides.Location
	}
	env, err := environment.New(c.Project, name, location, subscriptionID)
	if err != nil {
		return environment.Environment{}, errors.Trace(err)
	}
	if overrides.VarFile != "" {
		env.VarFile = overrides.VarFile
	}
	for k, v := range overrides.Variables {
		env.Variables[k] = v
	}
	return env, nil
}
