/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package movement

import (
	"context"
	"math"
	"sync"
	"time"
)

// Intervals are the sampling intervals for the delays.
var Intervals = map[int]time.Duration{
	DelayFastest: 5 * time.Millisecond,
	DelayGame:    20 * time.Millisecond,
	DelayUI:      60 * time.Millisecond,
	DelayNormal:  200 * time.Millisecond,
}

// Simulated is an Accelerometer at rest that wobbles a little.
type Simulated struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	delay  int
}

func interval(delay int) time.Duration {
	if d, have := Intervals[delay]; have {
		return d
	}
	return Intervals[DelayNormal]
}

func (a *Simulated) Start(ctx context.Context, delay int, f func(Sample)) error {
	a.Stop(ctx)

	a.mu.Lock()
	defer a.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.delay = delay
	done := make(chan struct{})
	a.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval(delay))
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				phase := float64(t.UnixNano()%int64(time.Second)) / float64(time.Second) * 2 * math.Pi
				f(Sample{
					X:    0.1 * math.Sin(phase),
					Y:    0.1 * math.Cos(phase),
					Z:    9.81,
					Time: t,
				})
			}
		}
	}()
	return nil
}

func (a *Simulated) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Delay returns the delay of the last Start.
func (a *Simulated) Delay() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.delay
}
