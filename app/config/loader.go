package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Subscription status values for feeds.
const (
	StatusSubscribed = "subscribed"
	StatusIgnored    = "ignored"
	StatusCandidate  = "candidate"
)

// Subscription source values, ordered by decreasing confidence that the
// subscription reflects genuine user interest.
const (
	SourceImported   = "imported"
	SourceManual     = "manual"
	SourceDiscovered = "discovered"
)

// LoadFeeds loads all YAML feed configurations from a directory. The feed
// name is derived from the file name without extension.
func LoadFeeds(feedsDir string) (map[string]*FeedConfig, error) {
	configs := make(map[string]*FeedConfig)

	if _, err := os.Stat(feedsDir); os.IsNotExist(err) {
		return configs, nil
	}

	files, err := filepath.Glob(filepath.Join(feedsDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YAML files: %w", err)
	}

	ymlFiles, err := filepath.Glob(filepath.Join(feedsDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to find YML files: %w", err)
	}
	files = append(files, ymlFiles...)

	for _, file := range files {
		config, err := loadFeedFile(file)
		if err != nil {
			return nil, fmt.Errorf("error loading %s: %w", file, err)
		}

		if err := validateFeed(config); err != nil {
			return nil, fmt.Errorf("invalid config %s: %w", file, err)
		}

		configs[config.Name] = config
	}

	return configs, nil
}

func loadFeedFile(path string) (*FeedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var config FeedConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Base(path)
	config.Name = strings.TrimSuffix(base, filepath.Ext(base))

	setFeedDefaults(&config)

	return &config, nil
}

func setFeedDefaults(config *FeedConfig) {
	if config.Subscription.Status == "" {
		config.Subscription.Status = StatusSubscribed
	}
	if config.Subscription.Source == "" {
		config.Subscription.Source = SourceManual
	}
	if config.Settings.RefreshInterval == 0 {
		config.Settings.RefreshInterval = 1800
	}
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = 30
	}
	if config.Settings.MaxItems == 0 {
		config.Settings.MaxItems = 50
	}
}

func validateFeed(config *FeedConfig) error {
	if config.Feed.URL == "" {
		return fmt.Errorf("feed URL is required")
	}
	switch config.Subscription.Status {
	case StatusSubscribed, StatusIgnored, StatusCandidate:
	default:
		return fmt.Errorf("unknown subscription status: %q", config.Subscription.Status)
	}
	switch config.Subscription.Source {
	case SourceImported, SourceManual, SourceDiscovered:
	default:
		return fmt.Errorf("unknown subscription source: %q", config.Subscription.Source)
	}
	return nil
}

// LoadProviders loads the AI provider configuration file. A missing file is
// not an error: the system runs without AI and relies on the local fallback.
func LoadProviders(path string) (*ProvidersConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ProvidersConfig{}, nil
		}
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}

	var config ProvidersConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse providers YAML: %w", err)
	}

	for i := range config.Providers {
		p := &config.Providers[i]
		if p.ID == "" {
			p.ID = p.Kind
		}
		switch p.Kind {
		case ProviderKindDeepSeek, ProviderKindOpenAI, ProviderKindOllama:
		default:
			return nil, fmt.Errorf("unknown provider kind: %q", p.Kind)
		}
	}

	if config.Default == "" && len(config.Providers) > 0 {
		config.Default = config.Providers[0].ID
	}

	return &config, nil
}

// FindProvider returns the provider entry with the given id, or nil.
func (c *ProvidersConfig) FindProvider(id string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].ID == id {
			return &c.Providers[i]
		}
	}
	return nil
}
