package service

import (
	"errors"

	"github.com/arqady01/chatllm/common/llm"
	"github.com/arqady01/chatllm/internal/prompt"
)

var (
	// ErrValidation is returned for rejected input. State is left unchanged.
	ErrValidation = errors.New("invalid input")

	// ErrConfiguration means the API key or base URL is missing. It is
	// reported before any network call.
	ErrConfiguration = errors.New("chat API is not configured")

	// ErrBusy is returned when a send is already in flight for the
	// conversation.
	ErrBusy = errors.New("a message is already being sent in this conversation")

	ErrConversationNotFound = errors.New("conversation not found")

	// ErrConversationCleared is returned when the messages were cleared
	// while the reply was pending. The reply is dropped.
	ErrConversationCleared = errors.New("conversation was cleared while the reply was pending")
)

// Send failures, re-exported so callers can tell them apart with errors.Is.
var (
	ErrEmptyContext  = prompt.ErrEmptyContext
	ErrEmptyResponse = llm.ErrEmptyResponse
	ErrTransport     = llm.ErrTransport
)
