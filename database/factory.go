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

package database

import (
	"context"
	"fmt"

	"github.com/tomoncle/docstore/types"
)

// DriverOpener connects a Driver for a validated endpoint.
type DriverOpener func(ctx context.Context, cfg *DatabaseEndpointConfig, logger Logger) (Driver, error)

// DriverFactory creates drivers by database type.
type DriverFactory struct {
	openers map[types.DatabaseType]DriverOpener
	logger  Logger
}

// NewDriverFactory returns a factory knowing every built-in backend.
func NewDriverFactory(logger Logger) *DriverFactory {
	if logger == nil {
		logger = GetLogger()
	}
	return &DriverFactory{
		logger: logger,
		openers: map[types.DatabaseType]DriverOpener{
			types.MongoDB:    openMongoDriver,
			types.PostgreSQL: openSQLDriver,
			types.MySQL:      openSQLDriver,
			types.SQLite:     openSQLDriver,
			types.Memory:     openMemoryDriver,
		},
	}
}

// Register installs or replaces the opener of a database type.
func (f *DriverFactory) Register(t types.DatabaseType, opener DriverOpener) {
	f.openers[t] = opener
}

// SupportedTypes lists the registered database types in enum order.
func (f *DriverFactory) SupportedTypes() []types.DatabaseType {
	var out []types.DatabaseType
	for _, t := range types.DatabaseTypes() {
		if _, ok := f.openers[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// CreateFromConfig validates cfg and connects the matching driver.
func (f *DriverFactory) CreateFromConfig(ctx context.Context, cfg *DatabaseEndpointConfig) (Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opener, ok := f.openers[cfg.Type()]
	if !ok {
		return nil, ConfigurationError("create driver",
			fmt.Errorf("unsupported database type: %s, supported types: %v", cfg.DatabaseType, f.SupportedTypes()))
	}
	drv, err := opener(ctx, cfg, f.logger)
	if err != nil {
		if KindOf(err) == KindBackend {
			return nil, ConnectionError("create driver", err)
		}
		return nil, err
	}
	return drv, nil
}
