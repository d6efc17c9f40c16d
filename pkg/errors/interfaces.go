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

// UserVisibleError is an error whose message can be shown to whoever sent
// the automation request. The HTTP error envelope, CLI output and MCP tool
// results use UserMessage and Suggestion instead of Error, which may carry
// upstream response bodies or transport details.
type UserVisibleError interface {
	error

	// IsUserVisible reports whether UserMessage is safe to show. A false
	// return makes the surfaces fall back to a generic message.
	IsUserVisible() bool

	// UserMessage explains the failure in request terms, such as
	// "Could not understand the request." or the platform's rejection reason.
	UserMessage() string

	// Suggestion tells the user what to change, or "" when nothing helps.
	Suggestion() string
}

// ErrorClassifier is how the pipeline decides whether to retry a stage and
// how metrics and exit codes label a failure.
type ErrorClassifier interface {
	error

	// ErrorType is a stable label: "validation", "extraction_failure",
	// a PlatformKind or CorpusKind, "provider", "config" or "timeout".
	ErrorType() string

	// IsRetryable is true only for transient failures: an unreachable
	// inference provider or platform. Authentication failures, rejected
	// payloads and malformed extractions are never retried.
	IsRetryable() bool
}

var (
	_ ErrorClassifier  = (*ExtractionError)(nil)
	_ ErrorClassifier  = (*PlatformError)(nil)
	_ ErrorClassifier  = (*CorpusError)(nil)
	_ ErrorClassifier  = (*ProviderError)(nil)
	_ ErrorClassifier  = (*ConfigError)(nil)
	_ UserVisibleError = (*ExtractionError)(nil)
	_ UserVisibleError = (*PlatformError)(nil)
	_ UserVisibleError = (*ValidationError)(nil)
)
