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

package mqtt

import (
	"context"
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var errTimeout = errors.New("mqtt operation timed out")

// Handler receives a message.
type Handler func(topic string, payload []byte)

// Client is the part of an MQTT client that the Sensor uses.
type Client interface {
	Subscribe(ctx context.Context, topic string, qos byte, h Handler) error
	Unsubscribe(ctx context.Context, topic string) error
}

// Paho is a Client backed by a paho MQTT client.
type Paho struct {
	Client  mqtt.Client
	Timeout time.Duration
}

// NewPaho makes a client that isn't connected yet.
func NewPaho(opts *mqtt.ClientOptions) *Paho {
	return &Paho{
		Client:  mqtt.NewClient(opts),
		Timeout: 10 * time.Second,
	}
}

func (p *Paho) wait(ctx context.Context, t mqtt.Token) error {
	timeout := p.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if !t.WaitTimeout(timeout) {
		return errTimeout
	}
	return t.Error()
}

func (p *Paho) Connect(ctx context.Context) error {
	return p.wait(ctx, p.Client.Connect())
}

func (p *Paho) Disconnect(quiesce uint) {
	p.Client.Disconnect(quiesce)
}

func (p *Paho) Subscribe(ctx context.Context, topic string, qos byte, h Handler) error {
	t := p.Client.Subscribe(topic, qos, func(_ mqtt.Client, m mqtt.Message) {
		h(m.Topic(), m.Payload())
	})
	return p.wait(ctx, t)
}

func (p *Paho) Unsubscribe(ctx context.Context, topic string) error {
	return p.wait(ctx, p.Client.Unsubscribe(topic))
}
