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
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/tomoncle/docstore/types"
)

const mongoScheme = "mongodb://"

// BuildConnectionString renders the MongoDB URI for cfg:
//
//	mongodb://[user:password@]host1[,host2...]/[database][?k1=v1&k2=v2]
//
// Hosts keep their input order and so do options. The "/" before the database
// name is always written. Option values are emitted as given.
func BuildConnectionString(cfg *DatabaseEndpointConfig) (string, error) {
	if err := checkEndpoint("build connection string", cfg); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(mongoScheme)
	if cfg.HasCredentials() {
		b.WriteString(url.UserPassword(cfg.User, cfg.Password).String())
		b.WriteByte('@')
	}
	b.WriteString(strings.Join(cfg.Hosts, ","))
	b.WriteByte('/')
	b.WriteString(cfg.DatabaseName)
	if len(cfg.Options) > 0 {
		b.WriteByte('?')
		b.WriteString(cfg.Options.Encode())
	}
	return b.String(), nil
}

// BuildDSN renders the driver data source name for cfg's database type.
func BuildDSN(cfg *DatabaseEndpointConfig) (string, error) {
	const op = "build dsn"
	if err := checkEndpoint(op, cfg); err != nil {
		return "", err
	}

	t := cfg.Type()
	if t.IsSQL() && len(cfg.Hosts) > 1 {
		return "", ConfigurationError(op, fmt.Errorf("%s accepts a single host, got %d", t, len(cfg.Hosts)))
	}

	switch t {
	case types.MongoDB:
		return BuildConnectionString(cfg)
	case types.PostgreSQL:
		return postgresDSN(cfg), nil
	case types.MySQL:
		return mysqlDSN(cfg), nil
	case types.SQLite:
		return sqliteDSN(cfg), nil
	case types.Memory:
		return "memory://" + strings.Join(cfg.Hosts, ",") + "/" + cfg.DatabaseName, nil
	default:
		return "", ConfigurationError(op, fmt.Errorf("unsupported database type: %q", cfg.DatabaseType))
	}
}

func checkEndpoint(op string, cfg *DatabaseEndpointConfig) error {
	if cfg == nil {
		return ConfigurationError(op, errors.New("config is nil"))
	}
	if len(cfg.Hosts) == 0 {
		return ConfigurationError(op, errors.New("at least one host is required"))
	}
	for i, h := range cfg.Hosts {
		if strings.TrimSpace(h) == "" {
			return ConfigurationError(op, fmt.Errorf("host #%d is empty", i))
		}
	}
	if (cfg.User == "") != (cfg.Password == "") {
		return ConfigurationError(op, errors.New("user and password must be set together"))
	}
	return nil
}

func postgresDSN(cfg *DatabaseEndpointConfig) string {
	u := url.URL{Scheme: "postgres", Host: cfg.Hosts[0], Path: "/" + cfg.DatabaseName}
	if cfg.HasCredentials() {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	opts := cfg.Options
	if _, ok := opts.Get("sslmode"); !ok {
		opts = opts.Set("sslmode", "disable")
	}
	if cfg.Connection.ConnectTimeout > 0 {
		if _, ok := opts.Get("connect_timeout"); !ok {
			opts = opts.Set("connect_timeout", fmt.Sprint(int(cfg.Connection.ConnectTimeout.Seconds())))
		}
	}
	u.RawQuery = opts.Encode()
	return u.String()
}

func mysqlDSN(cfg *DatabaseEndpointConfig) string {
	var b strings.Builder
	if cfg.HasCredentials() {
		b.WriteString(cfg.User)
		b.WriteByte(':')
		b.WriteString(cfg.Password)
		b.WriteByte('@')
	}
	b.WriteString("tcp(")
	b.WriteString(cfg.Hosts[0])
	b.WriteString(")/")
	b.WriteString(cfg.DatabaseName)
	if len(cfg.Options) > 0 {
		b.WriteByte('?')
		b.WriteString(cfg.Options.Encode())
	}
	return b.String()
}

func sqliteDSN(cfg *DatabaseEndpointConfig) string {
	dsn := cfg.Hosts[0]
	if len(cfg.Options) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + cfg.Options.Encode()
}
