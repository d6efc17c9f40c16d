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

package server

import (
	"golang.org/x/time/rate"
)

// RateLimiter bounds MCP tool calls. Creation has its own, tighter budget
// because it writes to the platform.
type RateLimiter struct {
	createBucket *rate.Limiter
	callBucket   *rate.Limiter
}

// NewRateLimiter creates a rate limiter with specified limits
// createsPerMinute: max create_workflow calls per minute
// callsPerMinute: max total tool calls per minute
func NewRateLimiter(createsPerMinute, callsPerMinute int) *RateLimiter {
	return &RateLimiter{
		createBucket: rate.NewLimiter(rate.Limit(float64(createsPerMinute)/60.0), createsPerMinute),
		callBucket:   rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60.0), callsPerMinute),
	}
}

// AllowCreate checks if a create_workflow call is allowed
func (rl *RateLimiter) AllowCreate() bool {
	return rl.createBucket.Allow()
}

// AllowCall checks if any tool call is allowed
func (rl *RateLimiter) AllowCall() bool {
	return rl.callBucket.Allow()
}
