package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/meinside/openai-go"
	"github.com/tectiv3/docchat/extract"
	"github.com/tectiv3/docchat/session"
)

const (
	systemPrompt     = "You are a helpful assistant that provides detailed financial advice."
	imagePrompt      = "What's in this image?"
	imageMaxTokens   = 300
	chatTemperature  = 0.7
	imageTemperature = 0.2
)

// completer is the part of the openai client used by the gateway
type completer interface {
	CreateChatCompletion(model string, messages []openai.ChatMessage, options openai.ChatCompletionOptions) (openai.ChatCompletion, error)
}

var _ completer = (*openai.Client)(nil)

// generate a user-agent value
func userAgent(key string) string {
	return fmt.Sprintf("docchat:%s", key)
}

func userTurn(message, fileContent string) string {
	return fmt.Sprintf("User message: %s\nFile content: %s", message, fileContent)
}

// answer appends the user turn to the session, asks the model with the whole
// bounded history and stores the reply. The session stays locked for the
// whole cycle.
func (s *Server) answer(ctx context.Context, key, message, fileContent string) (string, error) {
	var answer string
	err := s.sessions.Do(key, func(h *session.History) error {
		h.Append(session.Entry{Role: session.RoleUser, Content: userTurn(message, fileContent)})

		history := []openai.ChatMessage{openai.NewChatSystemMessage(systemPrompt)}
		for _, e := range h.Entries() {
			switch e.Role {
			case session.RoleAssistant:
				history = append(history, openai.NewChatAssistantMessage(e.Content))
			default:
				history = append(history, openai.NewChatUserMessage(e.Content))
			}
		}
		Log.WithField("session", key).WithField("history", len(history)).Info("Answer")

		text, err := s.complete(ctx, s.conf.Model, history,
			openai.ChatCompletionOptions{}.
				SetUser(userAgent(key)).
				SetTemperature(chatTemperature))
		if err != nil {
			return err
		}

		h.Append(session.Entry{Role: session.RoleAssistant, Content: text})
		answer = text

		return nil
	})
	if err == nil {
		s.metrics.sessions.Set(float64(len(s.sessions.Keys())))
	}

	return answer, err
}

// DescribeImage asks the vision model what the image at path shows
func (s *Server) DescribeImage(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInternal, err)
	}

	url := fmt.Sprintf("data:%s;base64,%s", imageMimeType(data), toBase64(data))
	prompt := imagePrompt
	message := openai.ChatMessage{
		Role: openai.ChatMessageRoleUser,
		Content: []openai.ChatMessageContent{
			{Type: "text", Text: &prompt},
			openai.NewChatMessageContentWithImageURL(url),
		},
	}

	return s.complete(ctx, s.conf.VisionModel, []openai.ChatMessage{message},
		openai.ChatCompletionOptions{}.
			SetMaxTokens(imageMaxTokens).
			SetTemperature(imageTemperature))
}

var _ extract.ImageDescriber = (*Server)(nil)

// complete runs one chat completion and returns the trimmed text of the first choice
func (s *Server) complete(ctx context.Context, model string, history []openai.ChatMessage, options openai.ChatCompletionOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	response, err := s.ai.CreateChatCompletion(model, history, options)
	s.metrics.observeCompletion(model, err)
	if err != nil {
		Log.WithField("model", model).Error(err)
		return "", fmt.Errorf("%w: %s", ErrRemoteService, err)
	}
	if len(response.Choices) == 0 {
		Log.WithField("model", model).Warn("No response from API")
		return "", fmt.Errorf("%w: no choices returned", ErrRemoteService)
	}

	answer, err := response.Choices[0].Message.ContentString()
	if err != nil {
		Log.WithField("model", model).Error(err)
		return "", fmt.Errorf("%w: %s", ErrRemoteService, err)
	}
	Log.WithField("model", model).WithField("tokens", response.Usage.TotalTokens).Debug(answer)

	return strings.TrimSpace(answer), nil
}

func imageMimeType(data []byte) string {
	mimeType := http.DetectContentType(data)
	if strings.HasPrefix(mimeType, "image/") {
		return mimeType
	}

	return "image/jpeg"
}

func toBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
