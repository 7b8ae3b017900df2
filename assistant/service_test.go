package assistant

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tectiv3/docchat/tools"
	"github.com/xuri/excelize/v2"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) CreateAssistant(ctx context.Context, request openai.AssistantRequest) (openai.Assistant, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(openai.Assistant), args.Error(1)
}

func (m *MockAPI) CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(openai.Thread), args.Error(1)
}

func (m *MockAPI) CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error) {
	args := m.Called(ctx, threadID, request)
	return args.Get(0).(openai.Message), args.Error(1)
}

func (m *MockAPI) CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error) {
	args := m.Called(ctx, threadID, request)
	return args.Get(0).(openai.Run), args.Error(1)
}

func (m *MockAPI) RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error) {
	args := m.Called(ctx, threadID, runID)
	return args.Get(0).(openai.Run), args.Error(1)
}

func (m *MockAPI) SubmitToolOutputs(ctx context.Context, threadID, runID string, request openai.SubmitToolOutputsRequest) (openai.Run, error) {
	args := m.Called(ctx, threadID, runID, request)
	return args.Get(0).(openai.Run), args.Error(1)
}

func (m *MockAPI) ListMessage(ctx context.Context, threadID string, limit *int, order, after, before, runID *string) (openai.MessagesList, error) {
	args := m.Called(ctx, threadID, runID)
	return args.Get(0).(openai.MessagesList), args.Error(1)
}

func (m *MockAPI) CreateFile(ctx context.Context, request openai.FileRequest) (openai.File, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(openai.File), args.Error(1)
}

func (m *MockAPI) GetFile(ctx context.Context, fileID string) (openai.File, error) {
	args := m.Called(ctx, fileID)
	return args.Get(0).(openai.File), args.Error(1)
}

// echoTool returns its raw arguments
type echoTool struct{ name string }

func (t echoTool) Name() string { return t.name }
func (t echoTool) Description() string { return "echo" }
func (t echoTool) Parameters() map[string]any { return map[string]any{"type": "object"} }
func (t echoTool) Call(_ context.Context, input string) (string, error) {
	return "echo:" + input, nil
}

func newTestService(t *testing.T, api API, fns ...tools.Function) *Service {
	t.Helper()
	reg, err := NewRegistry(fns...)
	require.NoError(t, err)

	return NewService(api, reg, Config{
		DescriptorPath: filepath.Join(t.TempDir(), "assistant.json"),
		BackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)
		},
	})
}

func textMessage(runID, value string, annotations ...any) openai.Message {
	return openai.Message{
		Role:  "assistant",
		RunID: &runID,
		Content: []openai.MessageContent{{
			Type: "text",
			Text: &openai.MessageText{Value: value, Annotations: annotations},
		}},
	}
}

func TestEnsureAssistantCreatesOnceAndPersists(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateAssistant", mock.Anything, mock.MatchedBy(func(r openai.AssistantRequest) bool {
		return r.Model == DefaultModel && *r.Name == DefaultName && len(r.Tools) == 2 &&
			r.Tools[0].Type == openai.AssistantToolTypeFileSearch
	})).Return(openai.Assistant{ID: "asst_1"}, nil).Once()

	s := newTestService(t, api, echoTool{name: "echo"})
	d, err := s.EnsureAssistant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "asst_1", d.AssistantID)

	d, err = s.EnsureAssistant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "asst_1", d.AssistantID)

	saved, err := LoadDescriptor(s.conf.DescriptorPath)
	require.NoError(t, err)
	assert.Equal(t, "asst_1", saved.AssistantID)
	assert.Equal(t, []string{"echo"}, saved.FunctionNames())

	// a fresh service reuses the persisted descriptor
	reg, err := NewRegistry(echoTool{name: "echo"})
	require.NoError(t, err)
	other := NewService(api, reg, Config{DescriptorPath: s.conf.DescriptorPath})
	d, err = other.EnsureAssistant(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "asst_1", d.AssistantID)

	api.AssertNumberOfCalls(t, "CreateAssistant", 1)
}

func TestEnsureAssistantFailsOnUnregisteredFunction(t *testing.T) {
	api := new(MockAPI)
	s := newTestService(t, api)
	d := &Descriptor{
		AssistantID: "asst_1",
		Tools: []openai.AssistantTool{{
			Type:     openai.AssistantToolTypeFunction,
			Function: &openai.FunctionDefinition{Name: "missing"},
		}},
	}
	require.NoError(t, d.Save(s.conf.DescriptorPath))

	_, err := s.EnsureAssistant(context.Background())
	assert.ErrorIs(t, err, ErrUnknownTool)
	api.AssertNotCalled(t, "CreateAssistant", mock.Anything, mock.Anything)
}

func TestSendCreatesThreadForNewUser(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateAssistant", mock.Anything, mock.Anything).Return(openai.Assistant{ID: "asst_1"}, nil)
	api.On("CreateThread", mock.Anything, mock.MatchedBy(func(r openai.ThreadRequest) bool {
		return len(r.Messages) == 1 && r.Messages[0].Content == "hello" &&
			len(r.Messages[0].Attachments) == 2 && r.Messages[0].Attachments[0].FileID == "file_a"
	})).Return(openai.Thread{ID: "thread_1"}, nil)
	api.On("CreateRun", mock.Anything, "thread_1", openai.RunRequest{AssistantID: "asst_1"}).
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusQueued}, nil)
	api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusInProgress}, nil).Once()
	api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusCompleted}, nil).Once()
	api.On("ListMessage", mock.Anything, "thread_1", mock.Anything).
		Return(openai.MessagesList{Messages: []openai.Message{textMessage("run_1", "hi there")}}, nil)

	s := newTestService(t, api)
	reply, err := s.Send(context.Background(), NewThread, Turn{Message: "hello", FileIDs: []string{"file_a", "file_a", "file_b"}})
	require.NoError(t, err)
	assert.Equal(t, "thread_1", reply.ThreadID)
	assert.Equal(t, "hi there", reply.Message)
	assert.Empty(t, reply.Citations)
	api.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendReusesExistingThread(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateAssistant", mock.Anything, mock.Anything).Return(openai.Assistant{ID: "asst_1"}, nil)
	api.On("CreateMessage", mock.Anything, "thread_9", mock.MatchedBy(func(r openai.MessageRequest) bool {
		return r.Role == "user" && r.Content == "again" && len(r.Attachments) == 0
	})).Return(openai.Message{}, nil)
	api.On("CreateRun", mock.Anything, "thread_9", mock.Anything).
		Return(openai.Run{ID: "run_2", Status: openai.RunStatusCompleted}, nil)
	api.On("ListMessage", mock.Anything, "thread_9", mock.Anything).
		Return(openai.MessagesList{Messages: []openai.Message{textMessage("run_2", "sure")}}, nil)

	s := newTestService(t, api)
	reply, err := s.Send(context.Background(), "thread_9", Turn{Message: "again"})
	require.NoError(t, err)
	assert.Equal(t, "thread_9", reply.ThreadID)
	assert.Equal(t, "sure", reply.Message)
	api.AssertNotCalled(t, "CreateThread", mock.Anything, mock.Anything)
}

func TestSendRewritesCitations(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateAssistant", mock.Anything, mock.Anything).Return(openai.Assistant{ID: "asst_1"}, nil)
	api.On("CreateMessage", mock.Anything, "thread_1", mock.Anything).Return(openai.Message{}, nil)
	api.On("CreateRun", mock.Anything, "thread_1", mock.Anything).
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusCompleted}, nil)
	annotations := []any{
		map[string]any{"type": "file_citation", "text": "【4:0†source】", "file_citation": map[string]any{"file_id": "file_a"}},
		map[string]any{"type": "file_path", "text": "【4:1†source】"},
		map[string]any{"type": "file_citation", "text": "【4:2†source】", "file_citation": map[string]any{"file_id": "file_b"}},
	}
	api.On("ListMessage", mock.Anything, "thread_1", mock.Anything).Return(openai.MessagesList{Messages: []openai.Message{
		textMessage("run_1", "Revenue grew【4:0†source】 see【4:1†source】 and【4:2†source】.", annotations...),
	}}, nil)
	api.On("GetFile", mock.Anything, "file_a").Return(openai.File{FileName: "q1.pdf"}, nil)
	api.On("GetFile", mock.Anything, "file_b").Return(openai.File{FileName: "q2.json"}, nil)

	s := newTestService(t, api)
	reply, err := s.Send(context.Background(), "thread_1", Turn{Message: "revenue?"})
	require.NoError(t, err)
	assert.Equal(t, "Revenue grew[0] see[1] and[2].", reply.Message)
	assert.Equal(t, []string{"[0] q1.pdf", "[2] q2.json"}, reply.Citations)
}

func TestRequiresActionSubmitsOneOutputPerCall(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateAssistant", mock.Anything, mock.Anything).Return(openai.Assistant{ID: "asst_1"}, nil)
	api.On("CreateMessage", mock.Anything, "thread_1", mock.Anything).Return(openai.Message{}, nil)
	api.On("CreateRun", mock.Anything, "thread_1", mock.Anything).Return(openai.Run{
		ID:     "run_1",
		Status: openai.RunStatusRequiresAction,
		RequiredAction: &openai.RunRequiredAction{
			SubmitToolOutputs: &openai.SubmitToolOutputs{ToolCalls: []openai.ToolCall{
				{ID: "call_1", Function: openai.FunctionCall{Name: "echo", Arguments: `{"a":1}`}},
				{ID: "call_2", Function: openai.FunctionCall{Name: "echo", Arguments: `{"a":2}`}},
			}},
		},
	}, nil)
	api.On("SubmitToolOutputs", mock.Anything, "thread_1", "run_1", openai.SubmitToolOutputsRequest{
		ToolOutputs: []openai.ToolOutput{
			{ToolCallID: "call_1", Output: `echo:{"a":1}`},
			{ToolCallID: "call_2", Output: `echo:{"a":2}`},
		},
	}).Return(openai.Run{ID: "run_1", Status: openai.RunStatusInProgress}, nil).Once()
	api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusCompleted}, nil)
	api.On("ListMessage", mock.Anything, "thread_1", mock.Anything).
		Return(openai.MessagesList{Messages: []openai.Message{textMessage("run_1", "done")}}, nil)

	s := newTestService(t, api, echoTool{name: "echo"})
	reply, err := s.Send(context.Background(), "thread_1", Turn{Message: "use tools"})
	require.NoError(t, err)
	assert.Equal(t, "done", reply.Message)
	api.AssertNumberOfCalls(t, "SubmitToolOutputs", 1)
}

func requiresActionRun() openai.Run {
	return openai.Run{
		ID:     "run_1",
		Status: openai.RunStatusRequiresAction,
		RequiredAction: &openai.RunRequiredAction{
			SubmitToolOutputs: &openai.SubmitToolOutputs{ToolCalls: []openai.ToolCall{
				{ID: "call_1", Function: openai.FunctionCall{Name: "echo", Arguments: `{}`}},
			}},
		},
	}
}

func TestRequiresActionLoopIsBounded(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateAssistant", mock.Anything, mock.Anything).Return(openai.Assistant{ID: "asst_1"}, nil)
	api.On("CreateMessage", mock.Anything, "thread_1", mock.Anything).Return(openai.Message{}, nil)
	api.On("CreateRun", mock.Anything, "thread_1", mock.Anything).Return(requiresActionRun(), nil)
	api.On("SubmitToolOutputs", mock.Anything, "thread_1", "run_1", mock.Anything).Return(requiresActionRun(), nil)
	api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").Return(requiresActionRun(), nil)

	s := newTestService(t, api, echoTool{name: "echo"})
	_, err := s.Send(context.Background(), "thread_1", Turn{Message: "loop"})
	assert.ErrorIs(t, err, ErrRunTimeout)
	api.AssertNumberOfCalls(t, "RetrieveRun", 5)
	api.AssertNumberOfCalls(t, "SubmitToolOutputs", 6)
}

func TestRequiresActionStopsOnCancel(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateAssistant", mock.Anything, mock.Anything).Return(openai.Assistant{ID: "asst_1"}, nil)
	api.On("CreateMessage", mock.Anything, "thread_1", mock.Anything).Return(openai.Message{}, nil)
	api.On("CreateRun", mock.Anything, "thread_1", mock.Anything).Return(requiresActionRun(), nil)
	api.On("SubmitToolOutputs", mock.Anything, "thread_1", "run_1", mock.Anything).Return(requiresActionRun(), nil)

	reg, err := NewRegistry(echoTool{name: "echo"})
	require.NoError(t, err)
	s := NewService(api, reg, Config{
		DescriptorPath: filepath.Join(t.TempDir(), "assistant.json"),
		BackOff:        func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = s.Send(ctx, "thread_1", Turn{Message: "loop"})
	assert.ErrorIs(t, err, context.Canceled)
	api.AssertNumberOfCalls(t, "SubmitToolOutputs", 1)
	api.AssertNotCalled(t, "RetrieveRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequiresActionUnknownToolFails(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateAssistant", mock.Anything, mock.Anything).Return(openai.Assistant{ID: "asst_1"}, nil)
	api.On("CreateMessage", mock.Anything, "thread_1", mock.Anything).Return(openai.Message{}, nil)
	api.On("CreateRun", mock.Anything, "thread_1", mock.Anything).Return(openai.Run{
		ID:     "run_1",
		Status: openai.RunStatusRequiresAction,
		RequiredAction: &openai.RunRequiredAction{
			SubmitToolOutputs: &openai.SubmitToolOutputs{ToolCalls: []openai.ToolCall{
				{ID: "call_1", Function: openai.FunctionCall{Name: "echo"}},
				{ID: "call_2", Function: openai.FunctionCall{Name: "rm_rf"}},
			}},
		},
	}, nil)

	s := newTestService(t, api, echoTool{name: "echo"})
	_, err := s.Send(context.Background(), "thread_1", Turn{Message: "x"})
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.EqualError(t, err, "unknown tool function: rm_rf")
	api.AssertNotCalled(t, "SubmitToolOutputs", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestTerminalRunStatusesFail(t *testing.T) {
	for _, status := range []openai.RunStatus{
		openai.RunStatusFailed, openai.RunStatusCancelled, openai.RunStatusExpired, openai.RunStatusIncomplete,
	} {
		t.Run(string(status), func(t *testing.T) {
			api := new(MockAPI)
			api.On("CreateAssistant", mock.Anything, mock.Anything).Return(openai.Assistant{ID: "asst_1"}, nil)
			api.On("CreateMessage", mock.Anything, "thread_1", mock.Anything).Return(openai.Message{}, nil)
			api.On("CreateRun", mock.Anything, "thread_1", mock.Anything).
				Return(openai.Run{ID: "run_1", Status: openai.RunStatusQueued}, nil)
			api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").
				Return(openai.Run{ID: "run_1", Status: status}, nil)

			s := newTestService(t, api)
			_, err := s.Send(context.Background(), "thread_1", Turn{Message: "x"})
			assert.ErrorIs(t, err, ErrRunFailed)
			api.AssertNotCalled(t, "ListMessage", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPollingIsBounded(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateAssistant", mock.Anything, mock.Anything).Return(openai.Assistant{ID: "asst_1"}, nil)
	api.On("CreateMessage", mock.Anything, "thread_1", mock.Anything).Return(openai.Message{}, nil)
	api.On("CreateRun", mock.Anything, "thread_1", mock.Anything).
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusInProgress}, nil)
	api.On("RetrieveRun", mock.Anything, "thread_1", "run_1").
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusInProgress}, nil)

	s := newTestService(t, api)
	_, err := s.Send(context.Background(), "thread_1", Turn{Message: "x"})
	assert.ErrorIs(t, err, ErrRunTimeout)
	api.AssertNumberOfCalls(t, "RetrieveRun", 5)
}

func TestPollingStopsOnCancel(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateAssistant", mock.Anything, mock.Anything).Return(openai.Assistant{ID: "asst_1"}, nil)
	api.On("CreateMessage", mock.Anything, "thread_1", mock.Anything).Return(openai.Message{}, nil)
	api.On("CreateRun", mock.Anything, "thread_1", mock.Anything).
		Return(openai.Run{ID: "run_1", Status: openai.RunStatusInProgress}, nil)

	reg, err := NewRegistry()
	require.NoError(t, err)
	s := NewService(api, reg, Config{
		DescriptorPath: filepath.Join(t.TempDir(), "assistant.json"),
		BackOff:        func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = s.Send(ctx, "thread_1", Turn{Message: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	api.AssertNotCalled(t, "RetrieveRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadFileConvertsSpreadsheets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "upload.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"item", "amount"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"rent", 1200}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	api := new(MockAPI)
	var uploaded []byte
	api.On("CreateFile", mock.Anything, mock.MatchedBy(func(r openai.FileRequest) bool {
		return r.FileName == "report.json" && r.Purpose == "assistants"
	})).Run(func(args mock.Arguments) {
		uploaded, _ = os.ReadFile(args.Get(1).(openai.FileRequest).FilePath)
	}).Return(openai.File{ID: "file_x"}, nil)

	s := newTestService(t, api)
	id, err := s.UploadFile(context.Background(), path, "report.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "file_x", id)
	assert.JSONEq(t, `[{"item":"rent","amount":1200}]`, string(uploaded))

	_, err = os.Stat(filepath.Join(dir, "upload.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestUploadFilePassesOtherFilesThrough(t *testing.T) {
	api := new(MockAPI)
	api.On("CreateFile", mock.Anything, openai.FileRequest{
		FileName: "q1.pdf", FilePath: "/tmp/abc.pdf", Purpose: "assistants",
	}).Return(openai.File{}, errors.New("boom"))

	s := newTestService(t, api)
	_, err := s.UploadFile(context.Background(), "/tmp/abc.pdf", "q1.pdf")
	assert.ErrorContains(t, err, "boom")
}

func TestRegistry(t *testing.T) {
	_, err := NewRegistry(echoTool{name: "a"}, echoTool{name: "a"})
	assert.Error(t, err)

	reg, err := NewRegistry(echoTool{name: "b"}, echoTool{name: "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, reg.Names())
	assert.NoError(t, reg.Validate([]string{"a", "b"}))
	assert.ErrorIs(t, reg.Validate([]string{"a", "c"}), ErrUnknownTool)

	out, err := reg.Dispatch(context.Background(), "a", "x")
	require.NoError(t, err)
	assert.Equal(t, "echo:x", out)

	_, err = reg.Dispatch(context.Background(), "zzz", "")
	assert.ErrorIs(t, err, ErrUnknownTool)

	list := reg.Tools()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Function.Name)
}

func TestDefaultToolsRegister(t *testing.T) {
	reg, err := NewRegistry(tools.Defaults()...)
	require.NoError(t, err)
	assert.Len(t, reg.Names(), len(tools.Defaults()))
}

func TestLoadDescriptorRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "assistant.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"x"}`), 0o644))
	_, err := LoadDescriptor(path)
	assert.Error(t, err)

	_, err = LoadDescriptor(filepath.Join(t.TempDir(), "missing.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
