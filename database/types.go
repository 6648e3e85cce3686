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
	"time"

	"github.com/tomoncle/docstore/types"
)

// DatabaseEndpointConfig describes one database endpoint: which backend it is,
// the ordered host list, optional credentials and driver query options.
type DatabaseEndpointConfig struct {
	DatabaseName string             `json:"database_name" yaml:"database_name"`
	DatabaseType types.DatabaseType `json:"database_type" yaml:"database_type" validate:"required,database_type"`
	Hosts        []string           `json:"hosts" yaml:"hosts" validate:"min=1,dive,required"`
	User         string             `json:"user,omitempty" yaml:"user,omitempty" validate:"required_with=Password"`
	Password     string             `json:"password,omitempty" yaml:"password,omitempty" validate:"required_with=User"`
	Options      Options            `json:"options,omitempty" yaml:"options,omitempty"`
	Connection   ConnectionConfig   `json:"connection" yaml:"connection"`
}

// Type returns the normalized database type.
func (c *DatabaseEndpointConfig) Type() types.DatabaseType {
	return types.ParseDatabaseType(string(c.DatabaseType))
}

// HasCredentials reports whether both user and password are set.
func (c *DatabaseEndpointConfig) HasCredentials() bool {
	return c.User != "" && c.Password != ""
}

// Clone returns a deep copy so env overrides never leak into shared configs.
func (c *DatabaseEndpointConfig) Clone() *DatabaseEndpointConfig {
	out := *c
	out.Hosts = append([]string(nil), c.Hosts...)
	out.Options = append(Options(nil), c.Options...)
	return &out
}

// ConnectionConfig tunes the client connection underneath a session.
type ConnectionConfig struct {
	ConnectTimeout  time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	MaxPoolSize     int           `json:"max_pool_size" yaml:"max_pool_size" validate:"gte=0"`
	MaxIdleConns    int           `json:"max_idle_conns" yaml:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	EnableQueryLog  bool          `json:"enable_query_log" yaml:"enable_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time" yaml:"slow_query_time"`
}

// DefaultConnectionConfig returns a connection config with sensible defaults.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		ConnectTimeout:  time.Second * 10,
		MaxPoolSize:     100,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		EnableQueryLog:  false,
		SlowQueryTime:   time.Second * 2,
	}
}

// withDefaults fills zero fields from DefaultConnectionConfig.
func (c ConnectionConfig) withDefaults() ConnectionConfig {
	d := DefaultConnectionConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MaxPoolSize == 0 {
		c.MaxPoolSize = d.MaxPoolSize
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = d.MaxIdleConns
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = d.ConnMaxLifetime
	}
	return c
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	DatabaseType  string        `json:"database_type"`
	ResponseTime  time.Duration `json:"response_time"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}
