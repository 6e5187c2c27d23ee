package config

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/moltworks/colony/pkg/models"
	"gopkg.in/yaml.v3"
)

// File names the loader expects inside the config directory.
const (
	ModelsFile = "models.yaml"
	AgentsFile = "agents.yaml"
	CronsFile  = "cron_jobs.yaml"
)

// modelsFileSchema is the on-disk shape of models.yaml.
type modelsFileSchema struct {
	TierOrder []models.Tier            `yaml:"tier_order,omitempty"`
	Providers map[string]*ProviderSpec `yaml:"providers"`
	Models    map[string]*ModelSpec    `yaml:"models"`
	Runtime   RuntimeDefaults          `yaml:"runtime,omitempty"`
}

// agentsFileSchema is the on-disk shape of agents.yaml.
type agentsFileSchema struct {
	Agents map[string]*AgentSpec `yaml:"agents"`
}

// cronsFileSchema is the on-disk shape of cron_jobs.yaml.
type cronsFileSchema struct {
	Crons map[string]*CronSpec `yaml:"crons"`
}

// Load reads, expands, parses, and validates the three config files in
// dir. It fails fast: any structural or referential problem aborts the
// load and the previous catalog (if any) stays in effect.
func Load(dir string) (*Catalog, error) {
	var mf modelsFileSchema
	if err := loadYAMLFile(filepath.Join(dir, ModelsFile), &mf); err != nil {
		return nil, err
	}

	var af agentsFileSchema
	if err := loadYAMLFile(filepath.Join(dir, AgentsFile), &af); err != nil {
		return nil, err
	}

	// The cron seed file is optional: a deployment may manage all
	// entries through the API.
	var cf cronsFileSchema
	cronPath := filepath.Join(dir, CronsFile)
	if _, err := os.Stat(cronPath); err == nil {
		if err := loadYAMLFile(cronPath, &cf); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, NewLoadError(cronPath, err)
	}

	if err := mergeDefaults(&mf.Runtime); err != nil {
		return nil, err
	}
	if len(mf.TierOrder) == 0 {
		mf.TierOrder = defaultTierOrder()
	}

	// Back-fill IDs from map keys so specs are self-describing once
	// they leave the registry.
	for id, m := range mf.Models {
		m.ID = id
	}
	for id, a := range af.Agents {
		a.ID = id
	}
	crons := make([]CronSpec, 0, len(cf.Crons))
	for id, c := range cf.Crons {
		c.ID = id
		crons = append(crons, *c)
	}

	catalog := &Catalog{
		configDir: dir,
		TierOrder: mf.TierOrder,
		Providers: mf.Providers,
		Models:    NewModelRegistry(mf.Models),
		Agents:    NewAgentRegistry(af.Agents),
		Crons:     crons,
		Pool:      &mf.Runtime.Pool,
		Breaker:   &mf.Runtime.Breaker,
		Safety:    &mf.Runtime.Safety,
	}

	if err := NewValidator(catalog).Validate(); err != nil {
		return nil, err
	}

	stats := catalog.Stats()
	slog.Info("Configuration loaded",
		"dir", dir,
		"agents", stats.Agents,
		"models", stats.Models,
		"providers", stats.Providers,
		"crons", stats.Crons,
	)

	return catalog, nil
}

// loadYAMLFile reads one file, expands {{.VAR}} env references, and
// decodes it strictly so typos in field names surface at startup.
func loadYAMLFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewLoadError(path, ErrConfigNotFound)
		}
		return NewLoadError(path, err)
	}

	expanded := ExpandEnv(data)

	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return nil
}
