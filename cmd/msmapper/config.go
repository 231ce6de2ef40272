// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/M0hamedSayed/MSMapper/internal/provider"
	"github.com/M0hamedSayed/MSMapper/pkg/types"
)

// envKeys are the scalar settings that MSMAPPER_* variables may override.
// AutomaticEnv only applies to keys viper already knows about.
var envKeys = []string{
	"chunk.batch_size_bytes",
	"chunk.max_memory_usage_bytes",
	"chunk.row_batch_size",
	"match.fuzzy_match_threshold",
	"match.escalation_threshold",
	"infer.sample_size",
	"provider.default",
	"provider.timeout",
	"provider.max_retries",
	"provider.max_wait",
	"mapping.smart_mapping",
	"mapping.provider",
	"mapping.session_cost_ceiling",
	"mapping.session_timeout",
	"mapping.progress_buffer",
	"ledger.data_dir",
	"ledger.disabled",
}

func bindEnvKeys() {
	for _, k := range envKeys {
		_ = viper.BindEnv(k)
	}
}

func mustBind(key string, f *pflag.Flag) {
	if err := viper.BindPFlag(key, f); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", f.Name, err))
	}
}

// loadConfig decodes the merged file, environment, and flag settings and
// fills in defaults.
func loadConfig() (types.Config, error) {
	var cfg types.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return types.Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// buildGateway returns nil when no provider profiles are configured.
func buildGateway(cfg types.Config) (*provider.Gateway, error) {
	if len(cfg.Provider.Profiles) == 0 {
		return nil, nil
	}
	providers, err := provider.Build(cfg.Provider, loadedSecrets, &http.Client{}, nil)
	if err != nil {
		return nil, err
	}
	return provider.NewGateway(cfg.Provider, providers, provider.WithLogger(logger))
}
