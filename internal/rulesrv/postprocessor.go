// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package rulesrv

import (
	"context"
	"sync"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/log"
	"github.com/EvanL1/VoltageEMS-sub001/pkg/schema"
)

// PostProcessor observes a completed rule execution (spec.md §4.5.4).
// Failures are logged and never fail the execution — see
// PostProcessorRegistry.runAll.
type PostProcessor interface {
	Process(ctx context.Context, result *schema.RuleExecutionResult) error
}

// PostProcessorRegistry is the ordered set of post-processors invoked
// after every rule execution.
type PostProcessorRegistry struct {
	mu         sync.RWMutex
	processors []PostProcessor
}

func NewPostProcessorRegistry() *PostProcessorRegistry {
	return &PostProcessorRegistry{}
}

func (r *PostProcessorRegistry) Register(p PostProcessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors = append(r.processors, p)
}

// runAll invokes every registered post-processor; a failing processor is
// logged and skipped, it never aborts the remaining processors or fails
// the execution itself (spec.md §4.5.5).
func (r *PostProcessorRegistry) runAll(ctx context.Context, result *schema.RuleExecutionResult) {
	r.mu.RLock()
	processors := append([]PostProcessor(nil), r.processors...)
	r.mu.RUnlock()

	for _, p := range processors {
		if err := p.Process(ctx, result); err != nil {
			log.Warnf("rulesrv: post-processor failed for execution %s: %v", result.ExecutionID, err)
		}
	}
}

// NATSPostProcessor mirrors every rule execution result onto a NATS
// subject, the same fan-out pattern pkg/nats documents for RTDB.Publish:
// out-of-process subscribers (dashboards, audit consumers) get a live
// feed without polling the RTDB execution record.
type NATSPostProcessor struct {
	publish func(subject string, data []byte) error
	subject string
}

// NewNATSPostProcessor wraps a publish function (typically
// (*nats.Client).Publish) so this package never imports pkg/nats
// directly — the caller wires the concrete client at startup.
func NewNATSPostProcessor(subject string, publish func(subject string, data []byte) error) *NATSPostProcessor {
	return &NATSPostProcessor{publish: publish, subject: subject}
}

func (p *NATSPostProcessor) Process(ctx context.Context, result *schema.RuleExecutionResult) error {
	data, err := marshalResult(result)
	if err != nil {
		return err
	}
	return p.publish(p.subject, data)
}
