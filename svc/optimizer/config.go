package optimizer

import "time"

// Config configures the OpenAI-compatible completion API (Groq by default).
type Config struct {
	APIKey              string        `env:"GROQ_API_KEY"`
	BaseURL             string        `env:"GROQ_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	Model               string        `env:"GROQ_MODEL" envDefault:"openai/gpt-oss-120b"`
	MaxCompletionTokens int           `env:"GROQ_MAX_COMPLETION_TOKENS" envDefault:"3500"`
	Timeout             time.Duration `env:"GROQ_TIMEOUT" envDefault:"2m"`
}
