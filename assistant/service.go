package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
	"github.com/tectiv3/docchat/extract"
	"github.com/tidwall/gjson"
)

// NewThread is the thread id stored for users that have not talked to the assistant yet
const NewThread = "0"

const DefaultRunTimeout = 2 * time.Minute

var (
	ErrRunFailed  = errors.New("assistant run failed")
	ErrRunTimeout = errors.New("assistant run timed out")
)

// API is the subset of the OpenAI assistants api used by the service
type API interface {
	CreateAssistant(ctx context.Context, request openai.AssistantRequest) (openai.Assistant, error)
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, request openai.SubmitToolOutputsRequest) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order, after, before, runID *string) (openai.MessagesList, error)
	CreateFile(ctx context.Context, request openai.FileRequest) (openai.File, error)
	GetFile(ctx context.Context, fileID string) (openai.File, error)
}

var _ API = (*openai.Client)(nil)

type Config struct {
	// DescriptorPath is where the assistant descriptor is persisted
	DescriptorPath string
	Name           string
	Instructions   string
	Model          string
	RunTimeout     time.Duration
	// BackOff overrides the run polling policy
	BackOff func() backoff.BackOff
}

// Turn is one user message with the ids of uploaded files to attach
type Turn struct {
	Message string
	FileIDs []string
}

type Reply struct {
	ThreadID  string
	Message   string
	Citations []string
}

type Service struct {
	mutex      sync.Mutex
	api        API
	registry   *Registry
	conf       Config
	descriptor *Descriptor

	turnsMutex sync.Mutex
	turns      map[string]*sync.Mutex
}

func NewService(api API, registry *Registry, conf Config) *Service {
	if conf.Name == "" {
		conf.Name = DefaultName
	}
	if conf.Instructions == "" {
		conf.Instructions = DefaultInstructions
	}
	if conf.Model == "" {
		conf.Model = DefaultModel
	}
	if conf.RunTimeout <= 0 {
		conf.RunTimeout = DefaultRunTimeout
	}
	if conf.BackOff == nil {
		timeout := conf.RunTimeout
		conf.BackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = timeout
			return b
		}
	}

	return &Service{api: api, registry: registry, conf: conf, turns: make(map[string]*sync.Mutex)}
}

// Do runs fn holding the turn lock of key, so turns of one conversation never
// overlap. A thread accepts a single active run.
func (s *Service) Do(key string, fn func() error) error {
	s.turnsMutex.Lock()
	m, ok := s.turns[key]
	if !ok {
		m = &sync.Mutex{}
		s.turns[key] = m
	}
	s.turnsMutex.Unlock()

	m.Lock()
	defer m.Unlock()

	return fn()
}

// EnsureAssistant returns the persisted assistant descriptor, creating the remote
// assistant on first use
func (s *Service) EnsureAssistant(ctx context.Context) (*Descriptor, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.descriptor != nil {
		return s.descriptor, nil
	}

	d, err := LoadDescriptor(s.conf.DescriptorPath)
	if err == nil {
		if err := s.registry.Validate(d.FunctionNames()); err != nil {
			return nil, err
		}
		log.WithField("assistant", d.AssistantID).Info("Existing assistant detected")
		s.descriptor = d
		return d, nil
	}
	log.WithField("path", s.conf.DescriptorPath).WithField("reason", err).Info("No existing assistant detected, creating new")

	d = &Descriptor{
		Name:         s.conf.Name,
		Instructions: s.conf.Instructions,
		Model:        s.conf.Model,
		Tools:        append([]openai.AssistantTool{{Type: openai.AssistantToolTypeFileSearch}}, s.registry.Tools()...),
		FileIDs:      []string{},
	}
	a, err := s.api.CreateAssistant(ctx, openai.AssistantRequest{
		Model:        d.Model,
		Name:         &d.Name,
		Instructions: &d.Instructions,
		Tools:        d.Tools,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create assistant: %w", err)
	}
	d.AssistantID = a.ID

	if err := d.Save(s.conf.DescriptorPath); err != nil {
		return nil, fmt.Errorf("failed to save assistant descriptor: %w", err)
	}
	log.WithField("assistant", d.AssistantID).Info("assistant created")
	s.descriptor = d

	return d, nil
}

// UploadFile pushes a local file to the remote file store. Spreadsheets are
// converted to json first.
func (s *Service) UploadFile(ctx context.Context, path, name string) (string, error) {
	if extract.KindOf(name) == extract.KindSpreadsheet {
		data, err := extract.SheetJSON(path)
		if err != nil {
			return "", err
		}
		jsonPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
		if err := os.WriteFile(jsonPath, data, 0o600); err != nil {
			return "", err
		}
		defer os.Remove(jsonPath)

		path = jsonPath
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".json"
	}

	f, err := s.api.CreateFile(ctx, openai.FileRequest{
		FileName: name,
		FilePath: path,
		Purpose:  string(openai.PurposeAssistants),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", name, err)
	}
	log.WithField("file", f.ID).WithField("name", name).Info("file uploaded")

	return f.ID, nil
}

// Send posts the turn to the thread, creating the thread when threadID is
// NewThread, runs the assistant and returns its answer
func (s *Service) Send(ctx context.Context, threadID string, turn Turn) (*Reply, error) {
	d, err := s.EnsureAssistant(ctx)
	if err != nil {
		return nil, err
	}

	attachments := attachmentsFor(turn.FileIDs)
	if threadID == NewThread || threadID == "" {
		thread, err := s.api.CreateThread(ctx, openai.ThreadRequest{
			Messages: []openai.ThreadMessage{{
				Role:        openai.ThreadMessageRoleUser,
				Content:     turn.Message,
				Attachments: attachments,
			}},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create thread: %w", err)
		}
		threadID = thread.ID
		log.WithField("thread", threadID).Info("thread created")
	} else {
		_, err := s.api.CreateMessage(ctx, threadID, openai.MessageRequest{
			Role:        string(openai.ThreadMessageRoleUser),
			Content:     turn.Message,
			Attachments: attachments,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to add message: %w", err)
		}
	}

	run, err := s.api.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: d.AssistantID})
	if err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}
	run, err = s.wait(ctx, threadID, run)
	if err != nil {
		return nil, err
	}

	reply, err := s.answer(ctx, threadID, run.ID)
	if err != nil {
		return nil, err
	}
	reply.ThreadID = threadID

	return reply, nil
}

func attachmentsFor(ids []string) []openai.ThreadAttachment {
	var list []openai.ThreadAttachment
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		list = append(list, openai.ThreadAttachment{
			FileID: id,
			Tools:  []openai.ThreadAttachmentTool{{Type: string(openai.AssistantToolTypeFileSearch)}},
		})
	}

	return list
}

// wait polls the run until it leaves the in progress states. Tool output
// submissions count against the same backoff as plain polling.
func (s *Service) wait(ctx context.Context, threadID string, run openai.Run) (openai.Run, error) {
	b := s.conf.BackOff()
	b.Reset()

	var err error
	for {
		l := log.WithField("run", run.ID).WithField("status", run.Status)
		switch run.Status {
		case openai.RunStatusCompleted:
			l.Info("run completed")
			return run, nil
		case openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired, openai.RunStatusIncomplete:
			reason := ""
			if run.LastError != nil {
				reason = run.LastError.Message
			}
			l.WithField("reason", reason).Warn("run terminated")
			return run, fmt.Errorf("%w: %s", ErrRunFailed, run.Status)
		case openai.RunStatusRequiresAction:
			outputs, err := s.toolOutputs(ctx, run)
			if err != nil {
				return run, err
			}
			l.WithField("outputs", len(outputs)).Info("submitting tool outputs")
			run, err = s.api.SubmitToolOutputs(ctx, threadID, run.ID, openai.SubmitToolOutputsRequest{ToolOutputs: outputs})
			if err != nil {
				return run, fmt.Errorf("failed to submit tool outputs: %w", err)
			}
		}

		next := b.NextBackOff()
		if next == backoff.Stop {
			l.Warn("run polling gave up")
			return run, fmt.Errorf("%w: %s", ErrRunTimeout, run.ID)
		}
		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-time.After(next):
		}

		run, err = s.api.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return run, fmt.Errorf("failed to retrieve run: %w", err)
		}
	}
}

// toolOutputs runs every requested tool call. Unknown functions abort the whole
// submission, handler errors are reported back to the model as output.
func (s *Service) toolOutputs(ctx context.Context, run openai.Run) ([]openai.ToolOutput, error) {
	if run.RequiredAction == nil || run.RequiredAction.SubmitToolOutputs == nil {
		return nil, fmt.Errorf("%w: run %s requires action without tool calls", ErrRunFailed, run.ID)
	}

	calls := run.RequiredAction.SubmitToolOutputs.ToolCalls
	if err := s.registry.Validate(callNames(calls)); err != nil {
		return nil, err
	}

	outputs := make([]openai.ToolOutput, 0, len(calls))
	for _, call := range calls {
		out, err := s.registry.Dispatch(ctx, call.Function.Name, call.Function.Arguments)
		if err != nil {
			log.WithField("function", call.Function.Name).Warn(err)
			out = "error: " + err.Error()
		}
		outputs = append(outputs, openai.ToolOutput{ToolCallID: call.ID, Output: out})
	}

	return outputs, nil
}

func callNames(calls []openai.ToolCall) []string {
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Function.Name
	}

	return names
}

// answer fetches the latest assistant message of the run and rewrites its
// annotations into numbered citations
func (s *Service) answer(ctx context.Context, threadID, runID string) (*Reply, error) {
	limit := 10
	order := "desc"
	list, err := s.api.ListMessage(ctx, threadID, &limit, &order, nil, nil, &runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	for _, msg := range list.Messages {
		if msg.Role != string(openai.ThreadMessageRoleAssistant) {
			continue
		}
		for _, content := range msg.Content {
			if content.Type != "text" || content.Text == nil {
				continue
			}
			text, citations := s.cite(ctx, content.Text)
			return &Reply{Message: text, Citations: citations}, nil
		}
	}

	return nil, fmt.Errorf("%w: run %s produced no text answer", ErrRunFailed, runID)
}

func (s *Service) cite(ctx context.Context, text *openai.MessageText) (string, []string) {
	value := text.Value
	citations := []string{}
	for i, a := range text.Annotations {
		raw, err := json.Marshal(a)
		if err != nil {
			continue
		}
		marker := gjson.GetBytes(raw, "text").String()
		if marker != "" {
			value = strings.Replace(value, marker, fmt.Sprintf("[%d]", i), 1)
		}

		fileID := gjson.GetBytes(raw, "file_citation.file_id").String()
		if fileID == "" {
			continue
		}
		f, err := s.api.GetFile(ctx, fileID)
		if err != nil {
			log.WithField("file", fileID).Warn(err)
			continue
		}
		citations = append(citations, fmt.Sprintf("[%d] %s", i, f.FileName))
	}

	return value, citations
}
