package cfg

type Cfg struct {
	// Storage configuration
	DBPath string

	// Application configuration
	FeedsDir          string
	ProvidersFile     string
	Port              string
	WorkerCount       int
	SchedulerInterval int
	APIAccessKey      string

	// Budget configuration
	MonthlyBudgetUSD float64
	USDCNYRate       float64

	// Executor configuration
	MaxConcurrentRequests int
	QueueSize             int
	QueueTimeoutSec       int
	CacheSize             int
	CacheTTLSec           int
	RatePerMinute         int
	RatePerHour           int
	RatePerDay            int
	CallTimeoutSec        int
	ReasoningTimeoutSec   int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}
