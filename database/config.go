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
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/tomoncle/docstore/types"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the on-disk configuration: a list of database endpoints.
type ConfigFile struct {
	Databases []DatabaseEndpointConfig `json:"databases" yaml:"databases"`
}

// LoadConfigFile reads a YAML or JSON configuration file. Files ending in
// .json are decoded as JSON, everything else as YAML.
func LoadConfigFile(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ConfigurationError("load config", fmt.Errorf("read %s: %w", path, err))
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var cf ConfigFile
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, ConfigurationError("load config", fmt.Errorf("decode %s: %w", path, err))
		}
		return &cf, nil
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML document. JSON is valid YAML and works too.
func ParseConfig(data []byte) (*ConfigFile, error) {
	var cf ConfigFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, ConfigurationError("parse config", err)
	}
	return &cf, nil
}

// Resolve picks the endpoint of the given type, and name when non-empty,
// applies environment overrides and validates the result. The stored entry
// is left untouched.
func (cf *ConfigFile) Resolve(dbType types.DatabaseType, name string) (*DatabaseEndpointConfig, error) {
	want := types.ParseDatabaseType(string(dbType))
	for i := range cf.Databases {
		candidate := &cf.Databases[i]
		if candidate.Type() != want {
			continue
		}
		if name != "" && candidate.DatabaseName != name {
			continue
		}
		cfg := candidate.Clone()
		overrideFromEnv(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if name != "" {
		return nil, ConfigurationError("resolve config", fmt.Errorf("no %s endpoint named %q", dbType, name))
	}
	return nil, ConfigurationError("resolve config", fmt.Errorf("no %s endpoint configured", dbType))
}

// overrideFromEnv overrides endpoint values from environment variables.
// DB_HOSTS is a comma separated host list.
func overrideFromEnv(cfg *DatabaseEndpointConfig) {
	if hosts := os.Getenv("DB_HOSTS"); hosts != "" {
		var list []string
		for _, h := range strings.Split(hosts, ",") {
			if h = strings.TrimSpace(h); h != "" {
				list = append(list, h)
			}
		}
		cfg.Hosts = list
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DatabaseName = dbname
	}
	if _, ok := os.LookupEnv("DB_ENABLE_QUERY_LOG"); ok {
		cfg.Connection.EnableQueryLog = os.Getenv("DB_ENABLE_QUERY_LOG") == "true"
	}
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func configValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("database_type", func(fl validator.FieldLevel) bool {
			return types.ParseDatabaseType(fl.Field().String()).IsValid()
		})
	})
	return validate
}

// Validate checks the endpoint invariants: a known database type, at least
// one non-empty host, and user and password either both set or both empty.
func (c *DatabaseEndpointConfig) Validate() error {
	if c == nil {
		return ConfigurationError("validate config", errors.New("config is nil"))
	}
	err := configValidator().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ConfigurationError("validate config", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return ConfigurationError("validate config", errors.New(strings.Join(msgs, "; ")))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "database_type":
		return fmt.Sprintf("%s: unsupported database type %q", fe.Namespace(), fe.Value())
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s must contain at least %s entry", fe.Field(), fe.Param())
	case "required":
		return fmt.Sprintf("%s is required", fe.Namespace())
	default:
		return fmt.Sprintf("%s failed %q validation", fe.Namespace(), fe.Tag())
	}
}
