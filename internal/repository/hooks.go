// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"context"
	"time"

	"github.com/EvanL1/VoltageEMS-sub001/pkg/log"
)

type sqlTimingKey struct{}

// Hooks satisfies sqlhooks.Hooks, logging every query and its duration
// at debug level.
type Hooks struct{}

// Before records the query and its start time.
func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("sql query %s %q", query, args)
	return context.WithValue(ctx, sqlTimingKey{}, time.Now()), nil
}

// After logs the elapsed time since Before.
func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(sqlTimingKey{}).(time.Time); ok {
		log.Debugf("sql query took %s", time.Since(begin))
	}
	return ctx, nil
}
