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

// Package bolt is a storage.Storage backed by a bbolt file.
package bolt

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/kastur/interdroid-swan/storage"
)

var bucket = []byte("expressions")

type Storage struct {
	Logger   *slog.Logger
	filename string
	db       *bolt.DB
}

func NewStorage(filename string) (*Storage, error) {
	return &Storage{
		filename: filename,
	}, nil
}

func (s *Storage) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Storage) Open(ctx context.Context) error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		db.Close()
		return err
	}
	s.db = db
	return nil
}

func (s *Storage) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Storage) List(ctx context.Context) ([]*storage.Registration, error) {
	var rs []*storage.Registration
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucket).Cursor()
		for id, bs := c.First(); id != nil; id, bs = c.Next() {
			var r storage.Registration
			if err := json.Unmarshal(bs, &r); err != nil {
				return err
			}
			r.ID = string(id)
			rs = append(rs, &r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger().Debug("storage list", "file", s.filename, "count", len(rs))
	return rs, nil
}

func (s *Storage) Write(ctx context.Context, rs []*storage.Registration) error {
	if len(rs) == 0 {
		return nil
	}

	vals := make(map[string][]byte, len(rs))
	for _, r := range rs {
		if r.Deleted {
			vals[r.ID] = nil
			continue
		}
		// The id is the key.
		js, err := json.Marshal(&storage.Registration{
			Source:     r.Source,
			Doc:        r.Doc,
			Registered: r.Registered,
		})
		if err != nil {
			return err
		}
		vals[r.ID] = js
	}

	s.logger().Debug("storage write", "file", s.filename, "count", len(vals))
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)
		for id, bs := range vals {
			var (
				key = []byte(id)
				err error
			)
			if bs == nil {
				err = b.Delete(key)
			} else {
				err = b.Put(key, bs)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}
