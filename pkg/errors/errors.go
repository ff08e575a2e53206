// Copyright 2025 The Zen Pipeline Authors
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

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CONFIG_ERROR indicates a configuration error
	CONFIG_ERROR ErrorCategory = "CONFIG_ERROR"
	// FILTER_ERROR indicates an error in the filter stage
	FILTER_ERROR ErrorCategory = "FILTER_ERROR"
	// DEDUP_ERROR indicates an error in the deduplication stage
	DEDUP_ERROR ErrorCategory = "DEDUP_ERROR"
	// RATE_LIMIT_ERROR indicates an error in the rate-limit stage
	RATE_LIMIT_ERROR ErrorCategory = "RATE_LIMIT_ERROR"
	// SINK_ERROR indicates an error handing an Observation downstream
	SINK_ERROR ErrorCategory = "SINK_ERROR"
	// PIPELINE_ERROR indicates a general pipeline error
	PIPELINE_ERROR ErrorCategory = "PIPELINE_ERROR"
)

// PipelineError represents a categorized pipeline error
type PipelineError struct {
	Category    ErrorCategory
	Source      string
	Code        string
	Message     string
	OriginalErr error
}

func (e *PipelineError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %s (source: %s): %v",
			e.Category, e.Code, e.Message, e.Source, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s: %s (source: %s)",
		e.Category, e.Code, e.Message, e.Source)
}

// Unwrap returns the wrapped error for errors.Is/As chains
func (e *PipelineError) Unwrap() error {
	return e.OriginalErr
}

// NewConfigError creates a new CONFIG_ERROR
func NewConfigError(source, code, message string, err error) *PipelineError {
	return &PipelineError{
		Category:    CONFIG_ERROR,
		Source:      source,
		Code:        code,
		Message:     message,
		OriginalErr: err,
	}
}

// NewFilterError creates a new FILTER_ERROR
func NewFilterError(source, code, message string, err error) *PipelineError {
	return &PipelineError{
		Category:    FILTER_ERROR,
		Source:      source,
		Code:        code,
		Message:     message,
		OriginalErr: err,
	}
}

// NewDedupError creates a new DEDUP_ERROR
func NewDedupError(source, code, message string, err error) *PipelineError {
	return &PipelineError{
		Category:    DEDUP_ERROR,
		Source:      source,
		Code:        code,
		Message:     message,
		OriginalErr: err,
	}
}

// NewRateLimitError creates a new RATE_LIMIT_ERROR
func NewRateLimitError(source, code, message string, err error) *PipelineError {
	return &PipelineError{
		Category:    RATE_LIMIT_ERROR,
		Source:      source,
		Code:        code,
		Message:     message,
		OriginalErr: err,
	}
}

// NewSinkError creates a new SINK_ERROR
func NewSinkError(source, code, message string, err error) *PipelineError {
	return &PipelineError{
		Category:    SINK_ERROR,
		Source:      source,
		Code:        code,
		Message:     message,
		OriginalErr: err,
	}
}

// NewPipelineError creates a new PIPELINE_ERROR
func NewPipelineError(source, code, message string, err error) *PipelineError {
	return &PipelineError{
		Category:    PIPELINE_ERROR,
		Source:      source,
		Code:        code,
		Message:     message,
		OriginalErr: err,
	}
}
