package config

// FeedConfig represents a single subscribed feed configuration
type FeedConfig struct {
	Name         string           `yaml:"-"` // Derived from filename
	Feed         FeedInfo         `yaml:"feed"`
	Subscription FeedSubscription `yaml:"subscription"`
	Settings     FeedSettings     `yaml:"settings"`
}

// FeedInfo contains basic feed information
type FeedInfo struct {
	URL   string `yaml:"url"`
	Title string `yaml:"title"`
}

// FeedSubscription describes how a feed entered the registry
type FeedSubscription struct {
	Status string `yaml:"status"` // subscribed, ignored, candidate
	Source string `yaml:"source"` // imported, manual, discovered
}

// FeedSettings contains feed fetch settings
type FeedSettings struct {
	Enabled         bool `yaml:"enabled"`
	RefreshInterval int  `yaml:"refresh_interval"` // seconds
	Timeout         int  `yaml:"timeout"`          // seconds
	MaxItems        int  `yaml:"max_items"`
}

// Supported AI provider kinds.
const (
	ProviderKindDeepSeek = "deepseek"
	ProviderKindOpenAI   = "openai"
	ProviderKindOllama   = "ollama"
)

// ProvidersConfig holds the AI provider configuration file contents
type ProvidersConfig struct {
	Default   string           `yaml:"default"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes a single AI provider entry
type ProviderConfig struct {
	ID              string `yaml:"id"`
	Kind            string `yaml:"kind"` // deepseek, openai, ollama
	BaseURL         string `yaml:"base_url"`
	APIKey          string `yaml:"api_key"`
	Model           string `yaml:"model"`
	EnableReasoning bool   `yaml:"enable_reasoning"`
}
