package platform

import (
	"context"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// NewLLMClient builds the Gemini client from GEMINI_API_KEY. A nil return
// means the provider is not configured; callers must report that as its own
// condition, not as a transient failure.
func NewLLMClient(ctx context.Context, logger *logrus.Logger) *genai.Client {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		logger.Warn("GEMINI_API_KEY not set, generation disabled")
		return nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		logger.Errorf("Failed to initialize Gemini client: %v", err)
		return nil
	}
	return client
}
