package xds

import (
	"bytes"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relaygate/relaygate/internal/configstore"
	"github.com/relaygate/relaygate/internal/domain/rbac"
	"github.com/relaygate/relaygate/internal/domain/target"
	gerr "github.com/relaygate/relaygate/internal/gatewayerr"
)

// localDocument is the top-level shape of a local-mode YAML
// configuration: a single listener plus the targets and policies it
// serves, matching original_source/src/xds.rs's LocalConfig struct.
// yaml.Decoder.KnownFields(true) gives the same "unknown field is a hard
// error" behavior that struct's serde(deny_unknown_fields) has.
type localDocument struct {
	Targets  []localTarget `yaml:"targets"`
	Policies []localPolicy `yaml:"policies"`
	Listener localListener `yaml:"listener"`
}

type localAuth struct {
	Type       string `yaml:"type"`
	Static     string `yaml:"static"`
	HeaderName string `yaml:"header_name"`
}

func (a *localAuth) toBackendAuth() *target.BackendAuth {
	if a == nil || a.Type == "" {
		return nil
	}
	return &target.BackendAuth{Type: target.AuthType(a.Type), Static: a.Static, HeaderName: a.HeaderName}
}

type localTarget struct {
	Name        string            `yaml:"name"`
	Kind        string            `yaml:"kind"`
	Command     string            `yaml:"command"`
	Args        []string          `yaml:"args"`
	Env         map[string]string `yaml:"env"`
	URL         string            `yaml:"url"`
	Headers     map[string]string `yaml:"headers"`
	Auth        *localAuth        `yaml:"auth"`
	DocumentURL string            `yaml:"document_url"`
	BaseURL     string            `yaml:"base_url"`
}

func (t localTarget) toTarget() (target.Target, error) {
	var spec target.Spec
	switch target.Kind(t.Kind) {
	case target.KindStdio:
		spec = target.StdioSpec{Command: t.Command, Args: t.Args, Env: t.Env}
	case target.KindMCPSSE:
		spec = target.MCPSSESpec{URL: t.URL, Headers: t.Headers, Auth: t.Auth.toBackendAuth()}
	case target.KindA2ASSE:
		spec = target.A2ASSESpec{URL: t.URL, Headers: t.Headers, Auth: t.Auth.toBackendAuth()}
	case target.KindOpenAPI:
		spec = target.OpenAPISpec{DocumentURL: t.DocumentURL, BaseURL: t.BaseURL, Headers: t.Headers, Auth: t.Auth.toBackendAuth()}
	default:
		return target.Target{}, fmt.Errorf("target %q: unknown kind %q", t.Name, t.Kind)
	}
	tt := target.Target{Name: t.Name, Spec: spec}
	if err := tt.Validate(); err != nil {
		return target.Target{}, err
	}
	return tt, nil
}

type localPolicy struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Priority      int    `yaml:"priority"`
	ResourceType  string `yaml:"resource_type"`
	ResourceMatch string `yaml:"resource_match"`
	Condition     string `yaml:"condition"`
	Action        string `yaml:"action"`
}

func (p localPolicy) toRule() rbac.Rule {
	return rbac.Rule{
		ID:            p.ID,
		Name:          p.Name,
		Priority:      p.Priority,
		ResourceType:  rbac.ResourceType(p.ResourceType),
		ResourceMatch: p.ResourceMatch,
		Condition:     p.Condition,
		Action:        rbac.Action(p.Action),
	}
}

type localListener struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`
	Addr string `yaml:"addr"`
}

// LoadLocal parses a local-mode YAML document and replaces store's
// entire configuration with it: every previous target and listener is
// removed, then every target and policy is inserted and the new listener
// inserted. Subsequent
// runtime mutations are not expected in local mode, per spec.md §4.6.
func LoadLocal(store *configstore.Store, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc localDocument
	if err := dec.Decode(&doc); err != nil {
		return gerr.New(gerr.KindConfig, "xds.LoadLocal", fmt.Errorf("parsing local config: %w", err))
	}

	prev, err := store.Snapshot()
	if err != nil {
		return gerr.New(gerr.KindConfig, "xds.LoadLocal", err)
	}
	for name := range prev.Targets {
		store.RemoveTarget(name)
	}
	for name := range prev.Listeners {
		store.RemoveListener(name)
	}

	for _, lt := range doc.Targets {
		t, err := lt.toTarget()
		if err != nil {
			return gerr.New(gerr.KindConfig, "xds.LoadLocal", err)
		}
		store.UpsertTarget(t)
	}

	loadTime := time.Now()
	rules := make([]rbac.Rule, 0, len(doc.Policies))
	for _, lp := range doc.Policies {
		r := lp.toRule()
		r.CreatedAt = loadTime
		rules = append(rules, r)
	}
	if err := store.ReplaceGlobalPolicy(rules); err != nil {
		return gerr.New(gerr.KindConfig, "xds.LoadLocal", err)
	}

	if doc.Listener.Name != "" {
		store.UpsertListener(configstore.ListenerConfig{
			Name: doc.Listener.Name,
			Kind: configstore.ListenerKind(doc.Listener.Kind),
			Addr: doc.Listener.Addr,
		})
	}

	return nil
}
