package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"proxyfinder/internal/shared/types"
	"proxyfinder/proxypool/model"
)

// Environment variables recognised as overrides of the ini file.
const (
	EnvTargetURLs      = "TARGET_URLS"
	EnvTargetURL       = "TARGET_URL"
	EnvMaxProxies      = "MAX_PROXIES"
	EnvMaxPerTarget    = "MAX_PER_TARGET"
	EnvVerifyCountry   = "VERIFY_COUNTRY"
	EnvExpectedCountry = "EXPECTED_COUNTRY"
	EnvOutputFile      = "OUTPUT_FILE"
)

// LoadIni loads the behaviour configuration into cfg and applies environment
// overrides. A missing file leaves the defaults in place.
func LoadIni(cfg *types.Config, fileName string) error {
	if _, err := os.Stat(fileName); err == nil {
		iniFile, err := ini.Load(fileName)
		if err != nil {
			return err
		}
		if err := iniFile.MapTo(cfg); err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	return nil
}

// ApplyEnv overrides cfg from the given lookup function. Malformed numeric values are ignored.
func ApplyEnv(cfg *types.Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvTargetURLs); ok && strings.TrimSpace(v) != "" {
		cfg.Targets = splitList(v)
	} else if v, ok := lookup(EnvTargetURL); ok && strings.TrimSpace(v) != "" {
		cfg.Targets = []string{strings.TrimSpace(v)}
	}
	overrideFromEnvInt(&cfg.MaxProxies, EnvMaxProxies, lookup)
	overrideFromEnvInt(&cfg.MaxPerTarget, EnvMaxPerTarget, lookup)
	if v, ok := lookup(EnvVerifyCountry); ok {
		cfg.Verify = v == "1" || strings.EqualFold(v, "true")
	}
	if v, ok := lookup(EnvExpectedCountry); ok && v != "" {
		cfg.ExpectedCountry = strings.ToUpper(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvOutputFile); ok && v != "" {
		cfg.File = v
	}
}

// ResolvePath makes a relative path relative to the config directory.
func ResolvePath(configDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(configDir, p)
}

type sourcesFile struct {
	Sources []model.Source `yaml:"sources"`
}

// LoadSources reads the listing sources from a YAML file. If the file does not
// exist the fallback list is returned.
func LoadSources(fileName string, fallback []model.Source) ([]model.Source, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fallback, nil
		}
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(fileName), err)
	}
	for i, s := range f.Sources {
		if s.URL == "" {
			return nil, fmt.Errorf("source #%d has no url", i+1)
		}
		if !s.Strategy.Valid() {
			return nil, fmt.Errorf("source %q has unknown strategy %q", s.String(), s.Strategy)
		}
	}
	if len(f.Sources) == 0 {
		return fallback, nil
	}
	return f.Sources, nil
}

// SaveSources writes the source list as YAML.
func SaveSources(fileName string, sources []model.Source) error {
	data, err := yaml.Marshal(sourcesFile{Sources: sources})
	if err != nil {
		return fmt.Errorf("failed to marshal sources: %w", err)
	}
	return os.WriteFile(fileName, data, 0644)
}

func overrideFromEnvInt(target *int, envName string, lookup func(string) (string, bool)) {
	envValue, ok := lookup(envName)
	if !ok || envValue == "" {
		return
	}
	if intValue, err := strconv.Atoi(strings.TrimSpace(envValue)); err == nil {
		*target = intValue
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
