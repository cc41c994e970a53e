package commands

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/systmms/credrotate/internal/config"
	"github.com/systmms/credrotate/internal/metrics"
	"github.com/systmms/credrotate/internal/notify"
	"github.com/systmms/credrotate/internal/provisioning"
	"github.com/systmms/credrotate/internal/secretstores"
	"github.com/systmms/credrotate/internal/state"
	"github.com/systmms/credrotate/internal/verify"
	"github.com/systmms/credrotate/pkg/rotation"
)

// session is what a command needs once the configuration is loaded.
type session struct {
	cfg      *config.Config
	store    *state.FileStore
	orch     *rotation.Orchestrator
	registry *secretstores.Registry
	metrics  *metrics.Metrics
	notifier *notify.Notifier
}

// openSession loads the configuration and opens the state directory. m may
// be nil when metrics are not served.
func openSession(cfg *config.Config, m *metrics.Metrics) (*session, error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}

	dir := cfg.Definition.StateDir
	if dir == "" {
		dir = state.DefaultStateDir()
	}
	store := state.NewFileStore(dir)
	cfg.Logger.Debug("Using state directory %s", dir)

	notifier, err := notify.NewNotifier(cfg.Definition.Webhooks, notify.Options{}, cfg.Logger)
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:   cfg,
		store: store,
		orch: rotation.New(rotation.Options{
			Store:   store,
			Metrics: m,
			Logger:  cfg.Logger,
		}),
		registry: secretstores.NewRegistry(),
		metrics:  m,
		notifier: notifier,
	}, nil
}

// spec builds the rotation spec of name with its secret store, provisioning
// backend and verifier.
func (s *session) spec(ctx context.Context, name string) (rotation.Spec, error) {
	sc, err := s.cfg.Spec(name)
	if err != nil {
		return rotation.Spec{}, err
	}

	secrets, err := s.registry.CreateSecretStore(ctx, sc.SecretStore)
	if err != nil {
		return rotation.Spec{}, fmt.Errorf("spec %s: %w", name, err)
	}

	backend, err := provisioning.New(sc.Provisioning, s.store.Dir())
	if err != nil {
		return rotation.Spec{}, fmt.Errorf("spec %s: %w", name, err)
	}
	attempts, delay, maxDelay := sc.RetryPolicy()
	opts := provisioning.GuardOptions{
		Timeout:  sc.Timeout(),
		Attempts: attempts,
		Delay:    delay,
		MaxDelay: maxDelay,
		Logger:   s.cfg.Logger,
	}
	if s.metrics != nil {
		opts.Observer = s.metrics
	}

	spec := rotation.Spec{
		Name:         name,
		Interval:     sc.Interval.Std(),
		Policy:       sc.Policy(),
		Resources:    sc.Resources,
		API:          provisioning.Guard(backend, opts),
		Secrets:      secrets,
		SecretPrefix: sc.SecretStore.Prefix,
		StoreTimeout: sc.StoreTimeout(),
	}

	if sc.Verify != nil {
		v, err := verify.New(*sc.Verify, sc.VerifyTimeout(), nil)
		if err != nil {
			return rotation.Spec{}, fmt.Errorf("spec %s: %w", name, err)
		}
		spec.Verifier = v
	}
	return spec, nil
}

// report sends the outcome of a pass to the configured webhooks.
func (s *session) report(ctx context.Context, name string, res *rotation.Result, err error) {
	s.notifier.Notify(ctx, notify.FromResult(name, res, err, time.Now()))
}

// specNames returns args after checking that each names a configured spec,
// or every configured spec when args is empty.
func (s *session) specNames(args []string) ([]string, error) {
	if len(args) == 0 {
		return s.cfg.Definition.SpecNames(), nil
	}
	for _, name := range args {
		if _, err := s.cfg.Spec(name); err != nil {
			return nil, err
		}
	}
	names := append([]string(nil), args...)
	sort.Strings(names)
	return names, nil
}

// singleSpec returns the spec named by args, or the only configured spec.
func (s *session) singleSpec(args []string) (string, error) {
	if len(args) > 0 {
		if _, err := s.cfg.Spec(args[0]); err != nil {
			return "", err
		}
		return args[0], nil
	}
	names := s.cfg.Definition.SpecNames()
	if len(names) != 1 {
		return "", fmt.Errorf("configuration declares %d specs; name the one to use", len(names))
	}
	return names[0], nil
}
