// Package assist fills fields that rule-based extraction left unknown by
// asking a language model.
package assist

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/jobscan/jobscan/pkg/config"
	"github.com/jobscan/jobscan/pkg/models"
	"github.com/jobscan/jobscan/pkg/utils"
)

const (
	promptOverheadTokens = 400
	retryBaseDelay       = 500 * time.Millisecond
)

// Filler fills unknown candidate fields. Implementations never overwrite a
// field that is known or declared empty.
type Filler interface {
	Fill(ctx context.Context, c *models.JobCandidate) error
}

// ModelFiller is a Filler backed by a langchaingo model
type ModelFiller struct {
	model           llms.Model
	schema          *jsonschema.Schema
	maxPromptTokens int
	maxRetries      int
	timeout         time.Duration
	log             *logrus.Entry
}

// NewModelFiller wraps model using the limits from cfg
func NewModelFiller(model llms.Model, cfg config.LLMConfig, log *logrus.Entry) (*ModelFiller, error) {
	schema, err := compileSchema(responseSchema)
	if err != nil {
		return nil, fmt.Errorf("%w: response schema: %w", utils.ErrParsing, err)
	}
	if err := InitTokenizer(""); err != nil {
		log.Warnf("Tokenizer unavailable, estimating prompt size: %v", err)
	}
	return &ModelFiller{
		model:           model,
		schema:          schema,
		maxPromptTokens: cfg.MaxPromptTokens,
		maxRetries:      cfg.MaxRetries,
		timeout:         cfg.Timeout,
		log:             log,
	}, nil
}

// NewOpenAIFiller builds a ModelFiller on the OpenAI chat API. The API key is
// read from the environment variable named by cfg.APIKeyEnv.
func NewOpenAIFiller(cfg config.LLMConfig, log *logrus.Entry) (*ModelFiller, error) {
	token := os.Getenv(cfg.APIKeyEnv)
	if token == "" {
		return nil, fmt.Errorf("%w: %s is not set", utils.ErrModelUnavailable, cfg.APIKeyEnv)
	}
	opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(token)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", utils.ErrModelUnavailable, err)
	}
	return NewModelFiller(model, cfg, log)
}

// Fill asks the model for the candidate's unknown fields and merges the
// answer into them. A failure after the retry budget returns an error
// wrapping utils.ErrModelUnavailable and leaves the candidate untouched.
func (f *ModelFiller) Fill(ctx context.Context, c *models.JobCandidate) error {
	wanted := unknownFields(c)
	if len(wanted) == 0 || strings.TrimSpace(c.Summary) == "" {
		return nil
	}

	prompt, err := f.buildPrompt(c, wanted)
	if err != nil {
		return fmt.Errorf("%w: building prompt: %w", utils.ErrModelUnavailable, err)
	}
	fillLog := f.log.WithFields(logrus.Fields{"title": c.Title.String(), "fields": wanted})

	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %w (last error: %v)", utils.ErrModelUnavailable, ctx.Err(), lastErr)
			}
		}

		resp, err := f.ask(ctx, prompt)
		if err == nil {
			merged := merge(c, resp)
			fillLog.WithField("filled", merged).Debug("Model filled unknown fields")
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		fillLog.WithField("attempt", attempt).Warnf("Model extraction failed: %v", err)
	}
	return fmt.Errorf("%w: after %d attempt(s): %w", utils.ErrModelUnavailable, f.maxRetries+1, lastErr)
}

func (f *ModelFiller) ask(ctx context.Context, prompt string) (*modelResponse, error) {
	callCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}
	out, err := llms.GenerateFromSinglePrompt(callCtx, f.model, prompt,
		llms.WithTemperature(0),
		llms.WithJSONMode(),
	)
	if err != nil {
		return nil, err
	}
	return decodeResponse(f.schema, []byte(stripCodeFence(out)))
}

func (f *ModelFiller) buildPrompt(c *models.JobCandidate, wanted []string) (string, error) {
	budget := f.maxPromptTokens - promptOverheadTokens
	if budget < 64 {
		budget = 64
	}
	body, err := budgetText(c.Summary, budget)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("You extract structured data from a government job announcement.\n")
	b.WriteString("Return ONLY a JSON object with these optional keys: ")
	b.WriteString(strings.Join(wanted, ", "))
	b.WriteString(".\n")
	b.WriteString(`"eligibility" and "fees" are arrays of {"name","value"} objects, e.g. {"name":"Age Limit","value":"18-27 years"} or {"name":"General","value":"₹100"}. `)
	b.WriteString(`"application_process" is an array of step strings in order. `)
	b.WriteString("Omit any key whose value is not stated in the text. Never guess.\n\n")
	b.WriteString("Announcement:\n")
	b.WriteString(body)
	return b.String(), nil
}

func unknownFields(c *models.JobCandidate) []string {
	var wanted []string
	if c.Title.State == models.FieldUnknown {
		wanted = append(wanted, "title")
	}
	if c.Eligibility.State == models.FieldUnknown {
		wanted = append(wanted, "eligibility")
	}
	if c.Fees.State == models.FieldUnknown {
		wanted = append(wanted, "fees")
	}
	if c.ApplicationProcess.State == models.FieldUnknown {
		wanted = append(wanted, "application_process")
	}
	return wanted
}

// merge copies model answers into unknown fields only and returns the names filled
func merge(c *models.JobCandidate, resp *modelResponse) []string {
	var filled []string
	if c.Title.State == models.FieldUnknown && strings.TrimSpace(resp.Title) != "" {
		c.Title = models.KnownText(strings.TrimSpace(resp.Title))
		filled = append(filled, "title")
	}
	if c.Eligibility.State == models.FieldUnknown && len(resp.Eligibility) > 0 {
		c.Eligibility = models.KnownMapping(toEntries(resp.Eligibility)...)
		filled = append(filled, "eligibility")
	}
	if c.Fees.State == models.FieldUnknown && len(resp.Fees) > 0 {
		c.Fees = models.KnownMapping(toEntries(resp.Fees)...)
		filled = append(filled, "fees")
	}
	if c.ApplicationProcess.State == models.FieldUnknown && len(resp.ApplicationProcess) > 0 {
		c.ApplicationProcess = models.KnownSteps(resp.ApplicationProcess...)
		filled = append(filled, "application_process")
	}
	if len(filled) > 0 && !strings.HasSuffix(c.ExtractedBy, "+model") {
		c.ExtractedBy += "+model"
	}
	return filled
}

func toEntries(in []modelEntry) []models.Entry {
	out := make([]models.Entry, 0, len(in))
	for _, e := range in {
		out = append(out, models.Entry{Name: strings.TrimSpace(e.Name), Value: strings.TrimSpace(e.Value)})
	}
	return out
}

// stripCodeFence removes a ```json fence some models wrap around their output
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
