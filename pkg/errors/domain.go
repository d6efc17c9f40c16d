// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors

import "fmt"

// ExtractionKind distinguishes the two ways turning a request into an intent can fail.
type ExtractionKind string

const (
	// InferenceUnavailable means the upstream model call could not be completed.
	InferenceUnavailable ExtractionKind = "inference_unavailable"

	// MalformedExtraction means the model answered but its output could not
	// be parsed into an intent.
	MalformedExtraction ExtractionKind = "malformed_extraction"
)

// ExtractionError is returned by the intent extractor.
type ExtractionError struct {
	Kind ExtractionKind

	// Detail is a short description of what went wrong
	Detail string

	// Cause is the underlying error (provider failure or JSON error)
	Cause error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("extraction failed (%s)", e.Kind)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExtractionError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ExtractionError) ErrorType() string { return "extraction_failure" }

// IsRetryable returns true only for unavailable inference whose cause is transient.
// A malformed answer is never retried.
func (e *ExtractionError) IsRetryable() bool {
	if e.Kind != InferenceUnavailable {
		return false
	}
	if e.Cause == nil {
		return true
	}
	var c ErrorClassifier
	if As(e.Cause, &c) {
		return c.IsRetryable()
	}
	return true
}

// IsUserVisible implements UserVisibleError.
func (e *ExtractionError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *ExtractionError) UserMessage() string {
	return "Could not understand the request."
}

// Suggestion implements UserVisibleError.
func (e *ExtractionError) Suggestion() string {
	if e.Kind == InferenceUnavailable {
		return "The language model service is unavailable; try again shortly."
	}
	return "Describe the services involved and what should trigger the workflow."
}

// CorpusKind distinguishes template corpus failures.
type CorpusKind string

const (
	// CorpusUnreadable means the corpus location could not be enumerated.
	CorpusUnreadable CorpusKind = "corpus_unreadable"

	// CorpusEmpty means enumeration succeeded but found zero templates.
	CorpusEmpty CorpusKind = "corpus_empty"
)

// CorpusError is returned when building a template index fails.
// Both kinds are fatal at startup.
type CorpusError struct {
	Kind     CorpusKind
	Location string
	Cause    error
}

// Error implements the error interface.
func (e *CorpusError) Error() string {
	msg := fmt.Sprintf("template corpus %s (%s)", e.Location, e.Kind)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CorpusError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *CorpusError) ErrorType() string { return string(e.Kind) }

// IsRetryable implements ErrorClassifier.
func (e *CorpusError) IsRetryable() bool { return false }

// PlatformKind classifies failures from the target workflow platform.
type PlatformKind string

const (
	// AuthenticationFailed means the platform credential is missing or invalid.
	AuthenticationFailed PlatformKind = "authentication_failed"

	// PlatformUnreachable covers network failures, timeouts and 5xx responses.
	PlatformUnreachable PlatformKind = "platform_unreachable"

	// CreationRejected means the platform validated and refused the payload.
	CreationRejected PlatformKind = "creation_rejected"
)

// PlatformError is returned by the artifact client.
type PlatformError struct {
	Kind PlatformKind

	// StatusCode is the HTTP status code (0 for transport failures)
	StatusCode int

	// Reason is the platform-supplied explanation, surfaced verbatim
	Reason string

	Cause error
}

// Error implements the error interface.
func (e *PlatformError) Error() string {
	msg := fmt.Sprintf("platform error (%s)", e.Kind)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PlatformError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *PlatformError) ErrorType() string { return string(e.Kind) }

// IsRetryable returns true only for PlatformUnreachable.
func (e *PlatformError) IsRetryable() bool {
	return e.Kind == PlatformUnreachable
}

// IsUserVisible implements UserVisibleError.
func (e *PlatformError) IsUserVisible() bool { return true }

// UserMessage implements UserVisibleError.
func (e *PlatformError) UserMessage() string {
	switch e.Kind {
	case AuthenticationFailed:
		if e.Reason != "" {
			return "Authentication with the workflow platform failed: " + e.Reason
		}
		return "Authentication with the workflow platform failed."
	case CreationRejected:
		if e.Reason != "" {
			return "The workflow platform rejected the workflow: " + e.Reason
		}
		return "The workflow platform rejected the workflow."
	default:
		return "The workflow platform could not be reached."
	}
}

// Suggestion implements UserVisibleError.
func (e *PlatformError) Suggestion() string {
	switch e.Kind {
	case AuthenticationFailed:
		return "Check the platform API key (N8N_API_KEY)."
	case PlatformUnreachable:
		return "Check that the platform is running and N8N_URL is correct."
	default:
		return ""
	}
}
