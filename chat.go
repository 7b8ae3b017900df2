package main

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/tectiv3/docchat/assistant"
	"github.com/tectiv3/docchat/extract"
)

const defaultSessionKey = "global"

// handleAssistantChat posts the message and attached files to the user's thread
func (s *Server) handleAssistantChat(w http.ResponseWriter, r *http.Request) {
	user := getUserFromContext(r)
	if user == nil {
		s.writeError(w, ErrUnauthorized)
		return
	}

	threadID := chi.URLParam(r, "id")
	if threadID == "" {
		threadID = user.ThreadID
	}
	if threadID != assistant.NewThread && threadID != user.ThreadID {
		Log.WithField("user", user.ID).WithField("thread", threadID).Warn("thread does not belong to user")
		s.writeError(w, ErrUnauthorized)
		return
	}

	if !s.parseForm(w, r, MaxFilesPerTurn) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	message := r.FormValue("message")
	headers := formFiles(r.MultipartForm, "files[]", "files")
	if err := s.checkFiles(headers, assistantFile); err != nil {
		s.writeError(w, err)
		return
	}
	if err := ValidateMessage(message, len(headers) > 0); err != nil {
		s.writeError(w, err)
		return
	}

	uploads, err := s.saveUploads(headers)
	defer extract.Cleanup(uploads)
	if err != nil {
		s.writeError(w, err)
		return
	}

	turn := assistant.Turn{Message: message}
	for _, u := range uploads {
		id, err := s.assistant.UploadFile(r.Context(), u.Path, u.OriginalName)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %s", ErrRemoteService, err))
			return
		}
		turn.FileIDs = append(turn.FileIDs, id)
	}

	var reply *assistant.Reply
	err = s.assistant.Do(strconv.FormatUint(uint64(user.ID), 10), func() error {
		// another turn may have created the thread while this one waited
		current, err := s.userByID(user.ID)
		if err != nil {
			return err
		}
		if threadID != assistant.NewThread && threadID != current.ThreadID {
			return ErrUnauthorized
		}

		reply, err = s.assistant.Send(r.Context(), current.ThreadID, turn)
		s.metrics.observeRun(err)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrRemoteService, err)
		}

		if reply.ThreadID != current.ThreadID {
			return s.setThreadID(current, reply.ThreadID)
		}
		return nil
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	Log.WithField("user", user.ID).WithField("thread", reply.ThreadID).WithField("citations", len(reply.Citations)).Info("assistant replied")

	s.writeJSON(w, http.StatusOK, ChatResponse{
		Success:  "true",
		Message:  reply.Message,
		Value:    reply.Citations,
		ThreadID: reply.ThreadID,
	})
}

// handleChat answers a message using the session history and an optional document
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r, 1) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	message := r.FormValue("message")
	key := strings.TrimSpace(r.FormValue("sessionId"))
	if key == "" {
		key = defaultSessionKey
	}

	headers := formFiles(r.MultipartForm, "file")
	if len(headers) > 1 {
		headers = headers[:1]
	}
	if err := s.checkFiles(headers, extract.Supported); err != nil {
		s.writeError(w, err)
		return
	}
	if err := ValidateMessage(message, len(headers) > 0); err != nil {
		s.writeError(w, err)
		return
	}

	uploads, err := s.saveUploads(headers)
	defer extract.Cleanup(uploads)
	if err != nil {
		s.writeError(w, err)
		return
	}

	fileContent := ""
	if len(uploads) > 0 {
		u := uploads[0]
		fileContent, err = s.files.Extract(r.Context(), u.Path, u.OriginalName)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	answer, err := s.answer(r.Context(), key, message, fileContent)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, MessageResponse{Message: answer})
}

// handleUpload describes an uploaded image
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r, 1) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := formFiles(r.MultipartForm, "image")
	if len(headers) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "No image uploaded")
		return
	}
	headers = headers[:1]
	if err := s.checkFiles(headers, isImage); err != nil {
		s.writeError(w, err)
		return
	}

	uploads, err := s.saveUploads(headers)
	defer extract.Cleanup(uploads)
	if err != nil {
		s.writeError(w, err)
		return
	}

	analysis, err := s.DescribeImage(r.Context(), uploads[0].Path)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, AnalysisResponse{Analysis: analysis})
}

// parseForm reads a multipart body holding at most files uploads. Oversized
// bodies are cut off before anything reaches the disk.
func (s *Server) parseForm(w http.ResponseWriter, r *http.Request, files int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, files*MaxFileSize+maxFormOverhead)
	if err := r.ParseMultipartForm(MaxFileSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeJSONError(w, http.StatusRequestEntityTooLarge, "Request too large")
			return false
		}
		s.writeJSONError(w, http.StatusBadRequest, "Invalid multipart form")
		return false
	}

	return true
}

func formFiles(form *multipart.Form, fields ...string) []*multipart.FileHeader {
	if form == nil {
		return nil
	}

	var headers []*multipart.FileHeader
	for _, f := range fields {
		headers = append(headers, form.File[f]...)
	}

	return headers
}

func isImage(name string) bool {
	return extract.KindOf(name) == extract.KindImage
}

// assistantFile accepts the documents the remote file search can index
func assistantFile(name string) bool {
	return extract.Supported(name) && !isImage(name)
}

// checkFiles rejects the request before anything is stored or sent anywhere
func (s *Server) checkFiles(headers []*multipart.FileHeader, accept func(name string) bool) error {
	if len(headers) > MaxFilesPerTurn {
		return fmt.Errorf("%w: at most %d files per message", ErrInputTooLong, MaxFilesPerTurn)
	}

	for _, fh := range headers {
		if !accept(fh.Filename) {
			return fmt.Errorf("%w: %s", extract.ErrUnsupportedFileType, fh.Filename)
		}
		if err := ValidateFileSize(fh.Size); err != nil {
			return err
		}
	}

	return nil
}

// saveUploads stores the files in the upload dir. The returned uploads must be
// cleaned up by the caller even when an error is returned.
func (s *Server) saveUploads(headers []*multipart.FileHeader) ([]*extract.Upload, error) {
	uploads := make([]*extract.Upload, 0, len(headers))
	for _, fh := range headers {
		u, err := extract.Save(s.conf.UploadDir, fh)
		if err != nil {
			return uploads, fmt.Errorf("%w: failed to store upload: %s", ErrInternal, err)
		}
		s.metrics.uploads.WithLabelValues(string(extract.KindOf(fh.Filename))).Inc()
		uploads = append(uploads, u)
	}

	return uploads, nil
}
