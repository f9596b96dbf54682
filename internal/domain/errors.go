package domain

import "errors"

var (
	// ErrConfiguration indicates settings that can never work, such as a
	// chunk overlap that is not smaller than the chunk size.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrPersistence indicates that a snapshot artifact could not be saved or loaded.
	ErrPersistence = errors.New("snapshot persistence failed")

	// ErrCorruptSnapshot indicates that persisted artifacts disagree with each other.
	ErrCorruptSnapshot = errors.New("corrupt snapshot")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsupportedDocument indicates a file type no reader can extract.
	ErrUnsupportedDocument = errors.New("unsupported document")

	// ErrDocumentTooLarge indicates an upload above the configured byte limit.
	ErrDocumentTooLarge = errors.New("document too large")

	// ErrLLMUnavailable indicates no generative model is configured.
	ErrLLMUnavailable = errors.New("LLM service unavailable")
)
