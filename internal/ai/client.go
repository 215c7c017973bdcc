package ai

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	ModelMock = "Mock Response"

	medicalSystemPrompt = "You are a medical AI assistant. Please provide helpful, accurate medical information. " +
		"Give a comprehensive but concise answer. If the question is medical, cover relevant symptoms, causes, " +
		"treatments or recommendations. If you are unsure, say that a professional medical consultation is recommended."

	apologyText = "I apologize, but I'm experiencing technical difficulties. Please try again later " +
		"or consult with a healthcare professional for medical advice."
)

// Client routes a Request to the medical API when an image is attached,
// otherwise to the text provider. With neither available, or when the
// chosen backend fails, it answers with a canned reply instead of an error.
type Client struct {
	medical   *MedicalProvider
	text      Provider
	textLabel string
	log       *slog.Logger
}

// NewClient accepts nil for any backend that is not configured.
func NewClient(medical *MedicalProvider, text Provider, textLabel string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if textLabel == "" {
		textLabel = "AI Assistant"
	}
	return &Client{medical: medical, text: text, textLabel: textLabel, log: logger}
}

// Invoke only returns an error when ctx is done; upstream failures become
// an apology reply labelled ModelMock.
func (c *Client) Invoke(ctx context.Context, req Request) (Reply, error) {
	start := time.Now()
	reply, backend, err := c.route(ctx, req)
	if err == nil {
		c.log.Debug("inference done", "backend", backend, "model", reply.Model, "cost", time.Since(start))
		return reply, nil
	}
	if ctx.Err() != nil {
		return Reply{}, ctx.Err()
	}
	c.log.Warn("inference failed, using fallback reply",
		"backend", backend,
		"transient", IsTransient(err),
		"cost", time.Since(start),
		"error", err,
	)
	return Reply{Text: apologyText, Model: ModelMock}, nil
}

func (c *Client) route(ctx context.Context, req Request) (Reply, string, error) {
	switch {
	case len(req.Image) > 0 && c.medical != nil && c.medical.URL != "" && c.medical.APIKey != "":
		r, err := c.medical.Analyze(ctx, req.Text, req.Image, req.ImageName, req.MaxTokens)
		return r, "medical", err
	case c.text != nil:
		text, err := c.text.Chat(ctx, []Message{
			{Role: "system", Content: medicalSystemPrompt},
			{Role: "user", Content: req.Text},
		}, req.MaxTokens)
		return Reply{Text: text, Model: c.textLabel}, "text", err
	default:
		return demoReply(req.Text), "mock", nil
	}
}

func demoReply(text string) Reply {
	return Reply{
		Text: fmt.Sprintf("Thank you for your question: '%s'. I understand you're seeking medical information. "+
			"While I'm currently operating in demo mode, I recommend consulting with a qualified healthcare "+
			"professional for accurate medical advice and diagnosis.", text),
		Model: ModelMock,
	}
}
