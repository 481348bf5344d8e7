package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/llm-chat-go/internal/config"
	"github.com/llm-chat-go/internal/models"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "sk-"

const minKeyLength = 20

// ErrNoAPIKey is returned when a call is attempted without a configured key.
var ErrNoAPIKey = errors.New("api key must be set before sending messages")

// APIError reports a failed call to the model endpoint. StatusCode is zero
// for transport failures that never produced an HTTP response.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api error [%d]: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error: %s", e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// ValidateKey checks the syntactic shape of an API credential
func ValidateKey(key string) error {
	if key == "" {
		return errors.New("api key cannot be empty")
	}
	if !strings.HasPrefix(key, keyPrefix) || len(key) < minKeyLength {
		return errors.New("invalid api key format")
	}
	return nil
}

// Client issues chat completion calls against an OpenAI-compatible endpoint
type Client struct {
	cfg        *config.APIConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a chat completion client
func NewClient(cfg *config.APIConfig, logger *logrus.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model            string        `json:"model"`
	Messages         []chatMessage `json:"messages"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	PresencePenalty  float64       `json:"presence_penalty"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	Stream           bool          `json:"stream,omitempty"`
}

type choice struct {
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type completionResponse struct {
	Choices []choice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Send issues a single chat completion call with the full conversation as
// context and returns the assistant's reply text
func (c *Client) Send(ctx context.Context, messages []models.Message) (string, error) {
	if c.cfg.Key == "" && !c.cfg.TestMode {
		return "", ErrNoAPIKey
	}

	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &APIError{Message: "failed to read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", apiErrorFromBody(resp.StatusCode, body)
	}

	var result completionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", &APIError{Message: "failed to parse response", Err: err}
	}
	if result.Error != nil {
		return "", &APIError{StatusCode: resp.StatusCode, Message: result.Error.Message}
	}
	if len(result.Choices) == 0 || result.Choices[0].Message == nil || result.Choices[0].Message.Content == "" {
		return "", &APIError{Message: "no response from model"}
	}

	c.logger.WithField("model", c.cfg.Model).Debug("Completion received")
	return result.Choices[0].Message.Content, nil
}

// SendStream opens a streaming completion call. The returned Stream yields
// fragments as they arrive; Close aborts the underlying transport.
func (c *Client) SendStream(ctx context.Context, messages []models.Message) (*Stream, error) {
	if c.cfg.Key == "" && !c.cfg.TestMode {
		return nil, ErrNoAPIKey
	}

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := c.post(streamCtx, messages, true)
	if err != nil {
		cancel()
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, apiErrorFromBody(resp.StatusCode, body)
	}

	c.logger.WithField("model", c.cfg.Model).Debug("Stream opened")
	return &Stream{
		body:   resp.Body,
		reader: bufio.NewReader(resp.Body),
		cancel: cancel,
	}, nil
}

func (c *Client) post(ctx context.Context, messages []models.Message, stream bool) (*http.Response, error) {
	wire := make([]chatMessage, len(messages))
	for i, msg := range messages {
		wire[i] = chatMessage{Role: string(msg.Role), Content: msg.Content}
	}

	reqBody := completionRequest{
		Model:            c.cfg.Model,
		Messages:         wire,
		Temperature:      c.cfg.Temperature,
		TopP:             c.cfg.TopP,
		PresencePenalty:  c.cfg.PresencePenalty,
		FrequencyPenalty: c.cfg.FrequencyPenalty,
		Stream:           stream,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, &APIError{Message: "failed to marshal request", Err: err}
	}

	url := fmt.Sprintf("%s/chat/completions", strings.TrimSuffix(c.cfg.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, &APIError{Message: "failed to create request", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.cfg.Key))

	c.logger.WithFields(logrus.Fields{
		"model":  c.cfg.Model,
		"url":    url,
		"stream": stream,
	}).Debug("Sending completion request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: "failed to send request", Err: err}
	}
	return resp, nil
}

func apiErrorFromBody(statusCode int, body []byte) *APIError {
	var errResp completionResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
		return &APIError{StatusCode: statusCode, Message: errResp.Error.Message}
	}
	return &APIError{StatusCode: statusCode, Message: string(body)}
}
