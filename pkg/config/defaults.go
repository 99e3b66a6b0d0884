package config

const (
	defaultStorageProvider = "sqlite"
	defaultSQLitePath      = "engram.db"
	defaultAPIListen       = ":8080"

	defaultHotMaxTurns    = 5
	defaultHotMaxTokens   = 1500
	defaultWarmMaxResults = 50
	defaultTokenBudget    = 4000

	defaultRecencyWeight     = 0.5
	defaultRelevanceWeight   = 0.35
	defaultCriticalityWeight = 0.15
	defaultDecayLambda       = 0.1

	defaultK1 = 1.2
	defaultB  = 0.75

	defaultModelProvider    = "ollama"
	defaultModelTarget      = "http://localhost:11434"
	defaultRecognitionModel = "llama3.2:1b"
	defaultGenerationModel  = "llama3.2"

	defaultRetryCount   = 3
	defaultRetryBackoff = "1s"
	defaultCallTimeout  = "5s"
	defaultMaxResults   = 10

	defaultEventsTopic = "engram.memory.events"

	defaultAPITarget = "http://localhost:8080"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Storage: StorageConfig{
			Provider:   defaultStorageProvider,
			SQLitePath: defaultSQLitePath,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Memory: MemoryConfig{
			HotMaxTurns:    defaultHotMaxTurns,
			HotMaxTokens:   defaultHotMaxTokens,
			WarmMaxResults: defaultWarmMaxResults,
			TokenBudget:    defaultTokenBudget,
		},
		Significance: SignificanceConfig{
			RecencyWeight:     defaultRecencyWeight,
			RelevanceWeight:   defaultRelevanceWeight,
			CriticalityWeight: defaultCriticalityWeight,
			DecayLambda:       defaultDecayLambda,
		},
		Index: IndexConfig{
			K1: defaultK1,
			B:  defaultB,
		},
		Recognition: RecognitionConfig{
			Provider:     defaultModelProvider,
			Target:       defaultModelTarget,
			Model:        defaultRecognitionModel,
			RetryCount:   defaultRetryCount,
			RetryBackoff: defaultRetryBackoff,
			CallTimeout:  defaultCallTimeout,
			MaxResults:   defaultMaxResults,
		},
		Generation: GenerationConfig{
			Provider: defaultModelProvider,
			Target:   defaultModelTarget,
			Model:    defaultGenerationModel,
		},
		Events: EventsConfig{
			Topic: defaultEventsTopic,
		},
		Client: ClientConfig{
			APITarget: defaultAPITarget,
		},
	}
}
