// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package config aggregates configuration for the restore driver.
// Each field is owned by its respective package; the core decoder
// packages (backupfile, metadatareader, datareader, logreader, schema,
// twiddle) take no configuration of their own, since they only ever
// work against paths the caller already resolved.
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// S3Config configures internal/backupfetch.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// ApplierConfig configures internal/applier.
type ApplierConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
	Schema  string `mapstructure:"schema"`
}

// CDCConfig configures internal/cdcstream.
type CDCConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// ExportConfig configures internal/tupleexport.
type ExportConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// MetricsConfig configures internal/restoremetrics.
type MetricsConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ExportInterval time.Duration `mapstructure:"export_interval"`
}

// TelemetryConfig configures internal/restoresink's OTel log fanout.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Debug       bool   `mapstructure:"debug"`
}

// RestoreConfig configures the restore command's own driving loop.
type RestoreConfig struct {
	// DataFileConcurrency bounds how many --data files cmd/restore.go decodes
	// at once, passed straight to errgroup.Group.SetLimit: negative
	// means unlimited.
	DataFileConcurrency int `mapstructure:"data_file_concurrency"`
}

// Config aggregates configuration for the application.
type Config struct {
	S3        S3Config        `mapstructure:"s3"`
	Applier   ApplierConfig   `mapstructure:"applier"`
	CDC       CDCConfig       `mapstructure:"cdc"`
	Export    ExportConfig    `mapstructure:"export"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Restore   RestoreConfig   `mapstructure:"restore"`
}

// defaultConfig returns the baseline configuration before files or
// environment variables are applied.
func defaultConfig() *Config {
	return &Config{
		Applier:   ApplierConfig{Schema: "public"},
		CDC:       CDCConfig{Brokers: []string{"localhost:9092"}, Topic: "restore.log"},
		Metrics:   MetricsConfig{ExportInterval: 15 * time.Second},
		Telemetry: TelemetryConfig{ServiceName: "backupreader"},
		Restore:   RestoreConfig{DataFileConcurrency: 4},
	}
}

// Load reads configuration from a config file in the current directory
// and environment variables. Environment variables use the prefix
// "BACKUPREADER" and the dot character in keys is replaced by an
// underscore: "applier.dsn" becomes "BACKUPREADER_APPLIER_DSN".
func Load() (*Config, error) {
	cfg := defaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("BACKUPREADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	_ = v.ReadInConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if brokers := v.GetString("cdc.brokers"); brokers != "" {
		cfg.CDC.Brokers = strings.Split(brokers, ",")
	}
	return cfg, nil
}

// bindEnvs registers every field within cfg so viper will look up the
// corresponding environment variable when unmarshalling, even for keys
// no config file sets.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}
