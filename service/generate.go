package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"google.golang.org/api/iterator"
)

const (
	defaultModel = "gemini-2.5-pro"

	// noResponseText stands in for an empty-but-successful reply. An empty
	// generation is not a failure.
	noResponseText = "(No response)"
)

// ErrNotConfigured means no provider credential is available. Callers must
// report this as its own condition, distinct from transient failures.
var ErrNotConfigured = errors.New("Gemini is not configured. Please set GEMINI_API_KEY.")

// ProviderError wraps an upstream generation failure.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return "Gemini error: " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// chatSession is one conversation-scoped exchange with the provider.
type chatSession interface {
	SendStream(ctx context.Context, parts ...genai.Part) chatIterator
	Send(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatIterator interface {
	Next() (*genai.GenerateContentResponse, error)
}

type sessionFactory func(modelName string, history []*genai.Content) chatSession

// GenerateService talks to the generation provider. One attempt per call;
// retry policy, if any, belongs to the caller.
type GenerateService struct {
	client       *genai.Client
	logger       *logrus.Logger
	model        string
	systemPrompt string
	newSession   sessionFactory
}

func NewGenerateService(client *genai.Client, logger *logrus.Logger) *GenerateService {
	m := os.Getenv("GEMINI_MODEL")
	if m == "" {
		m = defaultModel
	}
	s := &GenerateService{
		client:       client,
		logger:       logger,
		model:        m,
		systemPrompt: os.Getenv("GEMINI_SYSTEM_PROMPT"),
	}
	if client != nil {
		s.newSession = s.genaiSession
	}
	return s
}

func (s *GenerateService) IsConfigured() bool {
	return s.newSession != nil
}

type genaiSession struct {
	cs *genai.ChatSession
}

func (g genaiSession) SendStream(ctx context.Context, parts ...genai.Part) chatIterator {
	return g.cs.SendMessageStream(ctx, parts...)
}

func (g genaiSession) Send(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	return g.cs.SendMessage(ctx, parts...)
}

func (s *GenerateService) genaiSession(modelName string, history []*genai.Content) chatSession {
	model := s.client.GenerativeModel(modelName)
	if s.systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(s.systemPrompt)}}
	}
	cs := model.StartChat()
	cs.History = history
	return genaiSession{cs: cs}
}

// Generate sends the turn sequence to the provider and returns the full reply
// text. Streaming is preferred; each fragment is passed to onChunk (when non
// nil) as it arrives. An empty streamed aggregate falls back to one
// non-streaming call whose response is mined by the extractor chain. Provider
// failures come back as *ProviderError and are never retried here.
func (s *GenerateService) Generate(ctx context.Context, contents []*genai.Content, modelOverride string, onChunk func(string)) (string, error) {
	if s.newSession == nil {
		return "", ErrNotConfigured
	}
	if len(contents) == 0 {
		return "", &ProviderError{Err: errors.New("empty contents")}
	}

	name := s.modelName(modelOverride)
	history := contents[:len(contents)-1]
	last := contents[len(contents)-1]

	var aggregated strings.Builder
	iter := s.newSession(name, history).SendStream(ctx, last.Parts...)
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			s.logger.Warnf("Gemini error: %v", err)
			return "", &ProviderError{Err: err}
		}
		piece := candidateText(resp)
		if piece == "" {
			continue
		}
		aggregated.WriteString(piece)
		if onChunk != nil {
			onChunk(piece)
		}
	}

	text := strings.TrimSpace(aggregated.String())
	if text == "" {
		// Fresh session for the non-streaming fallback call.
		resp, err := s.newSession(name, history).Send(ctx, last.Parts...)
		if err != nil {
			s.logger.Warnf("Gemini error: %v", err)
			return "", &ProviderError{Err: err}
		}
		text = ExtractResponseText(resp)
		if text != "" && onChunk != nil {
			onChunk(text)
		}
	}
	if text == "" {
		text = noResponseText
		if onChunk != nil {
			onChunk(text)
		}
	}
	return text, nil
}

func (s *GenerateService) modelName(override string) string {
	if override != "" {
		return override
	}
	return s.model
}

// candidateText concatenates the text parts of the first candidate.
func candidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

// ExtractResponseText mines a response for text, tolerating several shapes:
// the typed candidate tree first, then a JSON re-read trying a direct text
// field, an output_text field and the nested candidates tree. First non-empty
// extraction wins; an empty string means every strategy came up dry.
func ExtractResponseText(resp *genai.GenerateContentResponse) string {
	if txt := strings.TrimSpace(candidateText(resp)); txt != "" {
		return txt
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return ""
	}
	return ExtractTextFromJSON(data)
}

// responseExtractors is the ordered fallback chain applied to a JSON-shaped
// provider response.
var responseExtractors = []func(gjson.Result) string{
	func(r gjson.Result) string { return r.Get("text").String() },
	func(r gjson.Result) string { return r.Get("output_text").String() },
	extractCandidatesTree,
}

// ExtractTextFromJSON applies the extractor chain to raw response JSON.
func ExtractTextFromJSON(data []byte) string {
	root := gjson.ParseBytes(data)
	for _, extract := range responseExtractors {
		if txt := strings.TrimSpace(extract(root)); txt != "" {
			return txt
		}
	}
	return ""
}

// extractCandidatesTree walks candidates -> content -> parts -> text. Parts
// may be objects carrying a text field or bare strings, depending on which
// serializer produced the document.
func extractCandidatesTree(root gjson.Result) string {
	var found string
	root.Get("candidates").ForEach(func(_, cand gjson.Result) bool {
		cand.Get("content.parts").ForEach(func(_, part gjson.Result) bool {
			txt := part.Get("text").String()
			if txt == "" && part.Type == gjson.String {
				txt = part.String()
			}
			if txt != "" {
				found = txt
				return false
			}
			return true
		})
		return found == ""
	})
	return found
}
