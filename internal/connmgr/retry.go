// Copyright (c) 2026 John Earle
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

package connmgr

import (
	"math"
	"time"

	"github.com/reachinbox/mailsync/internal/config"
)

// RetryPolicy decides how long to wait before reconnect attempt n.
type RetryPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// NewRetryPolicy builds a policy from configuration. The zero config yields
// a fixed DefaultReconnectDelay.
func NewRetryPolicy(cfg config.RetryConfig) RetryPolicy {
	p := RetryPolicy{
		Initial:    cfg.Initial,
		Max:        cfg.Max,
		Multiplier: cfg.Multiplier,
	}
	if p.Initial <= 0 {
		p.Initial = config.DefaultReconnectDelay
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	return p
}

// Delay returns Initial * Multiplier^attempt, capped at Max. attempt is
// zero-based.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.Multiplier == 1 {
		return p.Initial
	}
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(attempt))
	if d >= float64(p.Max) || math.IsInf(d, 1) {
		return p.Max
	}
	return time.Duration(d)
}
