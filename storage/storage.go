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

// Package storage persists the expressions registered with a driver
// so that they can be restored after a restart.
package storage

import (
	"context"
	"time"
)

// Registration is a registered expression as stored.
type Registration struct {
	// ID is the root id of the expression.
	ID string `json:"id,omitempty"`

	// Source is the parse string of the expression.
	Source string `json:"source"`

	// Doc is optional Markdown describing the expression.
	Doc string `json:"doc,omitempty" yaml:"doc,omitempty"`

	Registered time.Time `json:"registered"`

	// Deleted indicates that this registration has been removed.
	Deleted bool `json:"-" yaml:"-"`
}

// Storage is a persistence interface for registrations.
type Storage interface {
	Open(ctx context.Context) error

	Close(ctx context.Context) error

	// Write stores the registrations and deletes the ones marked
	// Deleted.
	Write(ctx context.Context, rs []*Registration) error

	// List returns the stored registrations in id order.
	List(ctx context.Context) ([]*Registration, error)
}

// Put stores one registration.
func Put(ctx context.Context, s Storage, r *Registration) error {
	return s.Write(ctx, []*Registration{r})
}

// Delete removes the registration with the id.
func Delete(ctx context.Context, s Storage, id string) error {
	return s.Write(ctx, []*Registration{{ID: id, Deleted: true}})
}
