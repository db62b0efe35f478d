// Copyright 2025 The kafbridge Authors.
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

package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const migrationKeyPrefix = "/kafbridge/migration/"

// EtcdStoreConfig defines how we connect to etcd for migration metadata.
type EtcdStoreConfig struct {
	Endpoints   []string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// EtcdStore persists migration records in etcd as JSON values under a fixed
// key prefix.
type EtcdStore struct {
	client *clientv3.Client
}

type migrationRecord struct {
	Status          string `json:"status"`
	MigrationOffset int64  `json:"migration_offset"`
	UpdatedAt       string `json:"updated_at"`
}

// NewEtcdStore initializes a store backed by etcd.
func NewEtcdStore(cfg EtcdStoreConfig) (*EtcdStore, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("etcd endpoints required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &EtcdStore{client: cli}, nil
}

// NewEtcdStoreWithClient wraps an existing client. The caller keeps ownership
// of the client lifecycle.
func NewEtcdStoreWithClient(cli *clientv3.Client) *EtcdStore {
	return &EtcdStore{client: cli}
}

func migrationKey(topic string) string {
	return migrationKeyPrefix + topic
}

// MigrationMetadata implements Store.
func (s *EtcdStore) MigrationMetadata(ctx context.Context, topic string) (*MigrationMetadata, error) {
	resp, err := s.client.Get(ctx, migrationKey(topic))
	if err != nil {
		return nil, fmt.Errorf("get migration metadata for %q: %w", topic, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, nil
	}
	var record migrationRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		return nil, fmt.Errorf("decode migration metadata for %q: %w", topic, err)
	}
	return &MigrationMetadata{
		Status:          MigrationStatus(record.Status),
		MigrationOffset: record.MigrationOffset,
	}, nil
}

// SetMigrationMetadata writes a topic's migration record. A nil snapshot
// deletes the record.
func (s *EtcdStore) SetMigrationMetadata(ctx context.Context, topic string, md *MigrationMetadata) error {
	if md == nil {
		if _, err := s.client.Delete(ctx, migrationKey(topic)); err != nil {
			return fmt.Errorf("delete migration metadata for %q: %w", topic, err)
		}
		return nil
	}
	record := migrationRecord{
		Status:          string(md.Status),
		MigrationOffset: md.MigrationOffset,
		UpdatedAt:       time.Now().UTC().Format(time.RFC3339),
	}
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode migration metadata for %q: %w", topic, err)
	}
	if _, err := s.client.Put(ctx, migrationKey(topic), string(value)); err != nil {
		return fmt.Errorf("put migration metadata for %q: %w", topic, err)
	}
	return nil
}

// Close releases the etcd client.
func (s *EtcdStore) Close() error {
	return s.client.Close()
}
