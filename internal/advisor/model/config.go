package model

import "time"

// ================ Config ================
type LLMConfig struct {
	Provider    string        `envconfig:"LLM_PROVIDER" default:"openrouter"`
	APIKey      string        `envconfig:"LLM_API_KEY"`
	BaseURL     string        `envconfig:"LLM_BASE_URL"`
	Model       string        `envconfig:"LLM_MODEL" default:"deepseek/deepseek-chat"`
	Timeout     time.Duration `envconfig:"LLM_TIMEOUT" default:"120s"`
	Temperature float32       `envconfig:"LLM_TEMPERATURE" default:"0.7"`
	MaxTokens   int           `envconfig:"LLM_MAX_TOKENS" default:"2048"`
	// JSONMode is "auto" (provider default), "on" or "off".
	JSONMode string `envconfig:"LLM_JSON_MODE" default:"auto"`

	Retry struct {
		MaxRetries uint64        `envconfig:"LLM_MAX_RETRIES" default:"2"`
		Initial    time.Duration `envconfig:"LLM_RETRY_INITIAL" default:"500ms"`
		Max        time.Duration `envconfig:"LLM_RETRY_MAX" default:"8s"`
	}
	Breaker struct {
		ConsecutiveFailures uint32        `envconfig:"LLM_BREAKER_FAILURES" default:"5"`
		OpenTimeout         time.Duration `envconfig:"LLM_BREAKER_TIMEOUT" default:"30s"`
	}

	// sent as HTTP-Referer / X-Title to openrouter
	SiteURL string `envconfig:"LLM_SITE_URL" default:"https://wuxing.app"`
	AppName string `envconfig:"LLM_APP_NAME" default:"Wu Xing Advisor"`
}

// SelectionModelConfig tunes the short id-picking calls made by the router.
type SelectionModelConfig struct {
	MaxTokens   int           `envconfig:"SELECTION_MAX_TOKENS" default:"50"`
	Temperature float32       `envconfig:"SELECTION_TEMPERATURE" default:"0.3"`
	Timeout     time.Duration `envconfig:"SELECTION_TIMEOUT" default:"60s"`
}

type ResponseModelConfig struct {
	MaxTokens      int           `envconfig:"RESPONSE_MAX_TOKENS" default:"2048"`
	Temperature    float32       `envconfig:"RESPONSE_TEMPERATURE" default:"0.7"`
	Timeout        time.Duration `envconfig:"STREAM_TIMEOUT" default:"120s"`
	DecisionHeader bool          `envconfig:"DECISION_HEADER_ENABLED" default:"false"`
	// LocalesFile replaces the embedded region hints when set.
	LocalesFile string `envconfig:"LOCALES_FILE"`
}

type GenerationConfig struct {
	Delay       time.Duration `envconfig:"GENERATION_DELAY" default:"1s"`
	StopOnError bool          `envconfig:"GENERATION_STOP_ON_ERROR" default:"false"`

	L1Max int `envconfig:"L1_MAX" default:"100"`
	L2Max int `envconfig:"L2_MAX_PER_PARENT" default:"10"`
	L3Max int `envconfig:"L3_MAX_PER_PARENT" default:"8"`
	L4Max int `envconfig:"L4_MAX_PER_PARENT" default:"6"`

	DomainTemperature    float32 `envconfig:"L1_TEMPERATURE" default:"0.7"`
	ScenarioTemperature  float32 `envconfig:"L2_TEMPERATURE" default:"0.7"`
	SubTemperature       float32 `envconfig:"L3_TEMPERATURE" default:"0.7"`
	IntentionTemperature float32 `envconfig:"L4_TEMPERATURE" default:"0.6"`
	ContentTemperature   float32 `envconfig:"CONTENT_TEMPERATURE" default:"0.7"`

	ProductContext string `envconfig:"PRODUCT_CONTEXT" default:"An iOS app for North American users that blends Eastern metaphysics (Five Elements, Bazi) with practical decision coaching for everyday life."`
}

// MaxFor returns the per-parent target for a child level.
func (c GenerationConfig) MaxFor(level Level) int {
	switch level {
	case LevelDomain:
		return c.L1Max
	case LevelScenario:
		return c.L2Max
	case LevelSubScenario:
		return c.L3Max
	case LevelIntention:
		return c.L4Max
	}
	return 0
}

// TemperatureFor returns the sampling temperature used when generating a level.
func (c GenerationConfig) TemperatureFor(level Level) float32 {
	switch level {
	case LevelDomain:
		return c.DomainTemperature
	case LevelScenario:
		return c.ScenarioTemperature
	case LevelSubScenario:
		return c.SubTemperature
	default:
		return c.IntentionTemperature
	}
}

type SessionConfig struct {
	Backend    string        `envconfig:"SESSION_BACKEND" default:"memory"`
	HistoryCap int           `envconfig:"SESSION_HISTORY_CAP" default:"20"`
	TTL        time.Duration `envconfig:"SESSION_TTL" default:"24h"`
	MaxEntries int           `envconfig:"SESSION_MAX_ENTRIES" default:"10000"`
}

type BaziConfig struct {
	Command    string        `envconfig:"BAZI_COMMAND" default:"npx bazi-mcp"`
	Tool       string        `envconfig:"BAZI_TOOL" default:"getBaziDetail"`
	Timeout    time.Duration `envconfig:"BAZI_TIMEOUT" default:"10s"`
	Sect       int           `envconfig:"BAZI_SECT" default:"2"`
	MaxRetries uint64        `envconfig:"BAZI_MAX_RETRIES" default:"1"`
	DefaultTZ  string        `envconfig:"BAZI_DEFAULT_TZ" default:"+08:00"`
}

type HTTPConfig struct {
	Addr            string        `envconfig:"HTTP_ADDR" default:":8080"`
	AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	ReadTimeout     time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	// MaxQueryLength bounds the question accepted by /api/ask, in characters.
	MaxQueryLength int `envconfig:"HTTP_MAX_QUERY_LENGTH" default:"2000"`
}

type NIMConfig struct {
	AppKey    string        `envconfig:"NIM_APP_KEY"`
	AppSecret string        `envconfig:"NIM_APP_SECRET"`
	BotAccID  string        `envconfig:"NIM_BOT_ACCID" default:"advisor_bot"`
	BaseURL   string        `envconfig:"NIM_BASE_URL" default:"https://api-sg.yunxinapi.com/nimserver"`
	Timeout   time.Duration `envconfig:"NIM_TIMEOUT" default:"10s"`
}

// Enabled reports whether credentials for the IM bridge are configured.
func (c NIMConfig) Enabled() bool {
	return c.AppKey != "" && c.AppSecret != ""
}
