/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tomoncle/docstore/database"
	"github.com/tomoncle/docstore/types"
	"go.mongodb.org/mongo-driver/bson"
)

// ErrReplaceNotConverged is wrapped when Replace runs out of attempts before
// the backend reports as many modified documents as matched ones.
var ErrReplaceNotConverged = errors.New("replace did not converge")

// ReplacePolicy bounds the Replace loop. MaxAttempts of zero means no bound;
// InitialBackoff of zero means attempts are issued back to back.
type ReplacePolicy struct {
	MaxAttempts    uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultReplacePolicy allows 32 attempts with exponential backoff from 5ms
// capped at 250ms.
func DefaultReplacePolicy() ReplacePolicy {
	return ReplacePolicy{
		MaxAttempts:    32,
		InitialBackoff: 5 * time.Millisecond,
		MaxBackoff:     250 * time.Millisecond,
	}
}

// UnboundedReplacePolicy retries without limit or delay until the counts agree
// or ctx is done.
func UnboundedReplacePolicy() ReplacePolicy { return ReplacePolicy{} }

func (p ReplacePolicy) backoff() retry.Backoff {
	var b retry.Backoff
	if p.InitialBackoff > 0 {
		b = retry.NewExponential(p.InitialBackoff)
		if p.MaxBackoff > 0 {
			b = retry.WithCappedDuration(p.MaxBackoff, b)
		}
	} else {
		b = retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
	if p.MaxAttempts > 0 {
		b = retry.WithMaxRetries(p.MaxAttempts-1, b)
	}
	return b
}

type notConverged struct {
	result database.UpdateResult
}

func (e *notConverged) Error() string {
	return fmt.Sprintf("matched %d, modified %d", e.result.Matched, e.result.Modified)
}

// replaceUntilConverged issues ReplaceOne until matched == modified. It
// returns the number of attempts made.
func replaceUntilConverged(ctx context.Context, coll database.CollectionHandle, policy ReplacePolicy,
	op string, filter types.Filter, doc bson.Raw) (int, error) {
	attempts := 0
	err := retry.Do(ctx, policy.backoff(), func(ctx context.Context) error {
		attempts++
		res, err := coll.ReplaceOne(ctx, filter, doc)
		if err != nil {
			return err
		}
		if res.Matched == res.Modified {
			return nil
		}
		return retry.RetryableError(&notConverged{result: res})
	})
	if err == nil {
		return attempts, nil
	}
	var nc *notConverged
	if errors.As(err, &nc) {
		return attempts, database.BackendError(op,
			fmt.Errorf("%w after %d attempts (%s)", ErrReplaceNotConverged, attempts, nc))
	}
	return attempts, database.ClassifyWrite(op, err)
}
