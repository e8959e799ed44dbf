// Package fallback – model-backed ambiguity resolution
//
// When the lexical gate cannot decide whether a low-confidence candidate is
// a real scheduling time, the pipeline escalates to an OpenAI-compatible
// chat model. A second capability answers which timezone an author most
// likely meant a time in, given the chat context, when the resolution chain
// runs dry. The resolver is strictly fail-open: any transport error,
// malformed reply, or open circuit yields an Inconclusive outcome and the
// caller falls back to its own degraded behavior instead of erroring.
// Timeouts are reported as their own status so operators can tell slowness
// from model refusals.
//
// A circuit breaker wraps every call; once the provider starts failing the
// breaker opens and subsequent escalations short-circuit to Inconclusive
// without burning the request timeout.

package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker/v2"
)

// Status is the terminal state of a fallback call.
type Status int

const (
	// Inconclusive means the model could not be consulted or gave no
	// usable answer. The caller must not act on the candidate.
	Inconclusive Status = iota
	// Resolved means the model returned a parseable verdict.
	Resolved
	// TimedOut means the call exceeded the configured deadline.
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case TimedOut:
		return "timed_out"
	default:
		return "inconclusive"
	}
}

// Outcome is what a fallback call produced. Fields are only meaningful when
// Status is Resolved; IsTime applies to Resolve answers, TZ carries the
// timezone the model named, if any.
type Outcome struct {
	Status     Status
	IsTime     bool
	Confidence float64
	TZ         string
}

// SourceQuery carries the context for a source-timezone question: the
// message itself plus whatever the system already half-knows about the
// author and the chat.
type SourceQuery struct {
	Text      string
	UserTZ    string   // author's last believed zone, possibly stale
	ChatZones []string // zones already active in the chat
}

// Resolver answers whether ambiguous text is a genuine scheduling time, and
// which zone a time was most likely meant in.
type Resolver interface {
	Resolve(ctx context.Context, text string) Outcome
	ResolveSourceTimezone(ctx context.Context, q SourceQuery) Outcome
}

// NopResolver is the resolver used when no model is configured. Every call
// is Inconclusive.
type NopResolver struct{}

func (NopResolver) Resolve(context.Context, string) Outcome {
	return Outcome{Status: Inconclusive}
}

func (NopResolver) ResolveSourceTimezone(context.Context, SourceQuery) Outcome {
	return Outcome{Status: Inconclusive}
}

const systemPrompt = `You judge chat messages for a timezone assistant.
Decide whether the message mentions a clock time someone intends to meet or act at.
Numbers that are counts, prices, scores, versions or durations are not times.
Reply with JSON only: {"is_time": bool, "confidence": 0..1, "timezone": "IANA zone or empty"}`

const sourcePrompt = `You infer which timezone the author of a chat message meant a clock time in.
Weigh the message against the context lines; prefer the author's last known zone unless the message contradicts it.
Only name a zone you are reasonably sure about.
Reply with JSON only: {"timezone": "IANA zone or empty", "confidence": 0..1}`

// Options configures LLMResolver construction.
type Options struct {
	BaseURL         string
	APIKey          string
	Model           string
	Timeout         time.Duration
	MaxTokens       int
	Temperature     float32
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// LLMResolver consults an OpenAI-compatible chat completion endpoint.
type LLMResolver struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	max     int
	temp    float32
	breaker *gobreaker.CircuitBreaker[openai.ChatCompletionResponse]
}

// NewLLMResolver builds a resolver from validated config values.
func NewLLMResolver(opts Options) *LLMResolver {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cb := gobreaker.NewCircuitBreaker[openai.ChatCompletionResponse](gobreaker.Settings{
		Name:    "llm-fallback",
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
	})
	return &LLMResolver{
		client:  openai.NewClientWithConfig(cfg),
		model:   opts.Model,
		timeout: opts.Timeout,
		max:     opts.MaxTokens,
		temp:    opts.Temperature,
		breaker: cb,
	}
}

// Resolve asks the model whether text is a genuine scheduling time. Never
// returns an error; failure modes collapse into Inconclusive or TimedOut
// per the fail-open contract.
func (r *LLMResolver) Resolve(ctx context.Context, text string) Outcome {
	return r.complete(ctx, systemPrompt, text)
}

// ResolveSourceTimezone asks the model which zone the author most likely
// meant a time in, given the chat context. Same fail-open contract as
// Resolve; callers must treat an empty TZ as no answer.
func (r *LLMResolver) ResolveSourceTimezone(ctx context.Context, q SourceQuery) Outcome {
	var sb strings.Builder
	sb.WriteString("Message: ")
	sb.WriteString(q.Text)
	if q.UserTZ != "" {
		sb.WriteString("\nAuthor's last known zone (may be stale): ")
		sb.WriteString(q.UserTZ)
	}
	if len(q.ChatZones) > 0 {
		sb.WriteString("\nZones active in this chat: ")
		sb.WriteString(strings.Join(q.ChatZones, ", "))
	}
	return r.complete(ctx, sourcePrompt, sb.String())
}

func (r *LLMResolver) complete(ctx context.Context, system, user string) Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.breaker.Execute(func() (openai.ChatCompletionResponse, error) {
		return r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       r.model,
			MaxTokens:   r.max,
			Temperature: r.temp,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
		})
	})
	switch {
	case err == nil:
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Warn().Dur("timeout", r.timeout).Msg("fallback model call timed out")
		return Outcome{Status: TimedOut}
	case errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests):
		log.Warn().Msg("fallback breaker open, skipping model call")
		return Outcome{Status: Inconclusive}
	default:
		log.Warn().Err(err).Msg("fallback model call failed")
		return Outcome{Status: Inconclusive}
	}

	if len(resp.Choices) == 0 {
		return Outcome{Status: Inconclusive}
	}
	verdict, ok := parseVerdict(resp.Choices[0].Message.Content)
	if !ok {
		log.Warn().Str("content", resp.Choices[0].Message.Content).Msg("fallback reply not parseable")
		return Outcome{Status: Inconclusive}
	}
	return verdict
}

type modelVerdict struct {
	IsTime     bool    `json:"is_time"`
	Confidence float64 `json:"confidence"`
	Timezone   string  `json:"timezone"`
}

// parseVerdict extracts the JSON verdict from a model reply, tolerating
// markdown code fences and prose around the object.
func parseVerdict(content string) (Outcome, bool) {
	raw, ok := extractJSON(content)
	if !ok {
		return Outcome{}, false
	}
	var v modelVerdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return Outcome{}, false
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return Outcome{}, false
	}
	return Outcome{
		Status:     Resolved,
		IsTime:     v.IsTime,
		Confidence: v.Confidence,
		TZ:         strings.TrimSpace(v.Timezone),
	}, true
}

// extractJSON returns the first balanced top-level JSON object in content.
func extractJSON(content string) (string, bool) {
	s := strings.TrimSpace(content)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	start := strings.Index(s, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
