package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"

	"irproxy_pool/internal/shared/types"
)

//go:embed default_sources.yaml
var defaultSourcesYAML []byte

// Default 返回内置默认值，ini 文件中缺失的键保持这些值。
func Default() *types.Config {
	return &types.Config{
		CommonConf: types.CommonConf{
			DataFile:      "output/config.yaml",
			SourcesFile:   "configs/sources.yaml",
			TargetCountry: "IR",
		},
		LogConf: types.LogConf{
			Level:         "info",
			Dir:           "output/logs",
			RetentionDays: 14,
		},
		PoolConf: types.PoolConf{
			MinPoolSize:   50,
			RetentionDays: 3,
		},
		FetchConf: types.FetchConf{
			Retries:                 3,
			TimeoutSeconds:          25,
			RetryBackoffSeconds:     3,
			ForbiddenBackoffSeconds: 5,
			SourcesPerSecond:        1,
			ProbeMode:               "tcp",
			ProbeTimeoutSeconds:     5,
			ProbeConcurrency:        20,
		},
		GeoConf: types.GeoConf{
			Services:          "ip-api,ipapi,ipinfo",
			TimeoutSeconds:    3,
			MaxRetries:        2,
			RequestsPerSecond: 0.7,
		},
		ExportConf: types.ExportConf{
			OutputDir: "output",
			Branch:    "main",
		},
	}
}

// LoadEnv loads .env files into the process environment. Missing files are ignored, real
// environment variables always win.
func LoadEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

// LoadIni 加载 irproxy.ini 行为配置文件，文件不存在时保留默认值，随后应用环境变量覆盖。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.LooseLoad(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}

	overrideFromEnvInt(&cfg.PoolConf.MinPoolSize, "IRPROXY_MIN_POOL_SIZE")
	overrideFromEnvString(&cfg.LogConf.Level, "IRPROXY_LOG_LEVEL")
	overrideFromEnvString(&cfg.ExportConf.OutputDir, "IRPROXY_OUTPUT_DIR")
	overrideFromEnvString(&cfg.WebConf.Password, "IRPROXY_WEB_PASSWORD")
	overrideFromEnvString(&cfg.ExportConf.Repository, "GITHUB_REPOSITORY")

	return Validate(cfg)
}

// Validate rejects values the updater cannot run with.
func Validate(cfg *types.Config) error {
	if cfg.PoolConf.MinPoolSize <= 0 {
		return fmt.Errorf("pool.min_pool_size must be positive, got %d", cfg.PoolConf.MinPoolSize)
	}
	if cfg.PoolConf.RetentionDays <= 0 {
		return fmt.Errorf("pool.retention_days must be positive, got %d", cfg.PoolConf.RetentionDays)
	}
	if cfg.FetchConf.Retries <= 0 {
		cfg.FetchConf.Retries = 1
	}
	switch cfg.FetchConf.ProbeMode {
	case "tcp", "handshake":
	default:
		return fmt.Errorf("fetch.probe_mode must be tcp or handshake, got %q", cfg.FetchConf.ProbeMode)
	}
	if cfg.CommonConf.DataFile == "" {
		return fmt.Errorf("common.data_file must be set")
	}
	return nil
}

// TargetCountries splits common.target_country into upper-cased ISO codes.
func TargetCountries(cfg *types.Config) []string {
	var out []string
	for _, c := range strings.Split(cfg.CommonConf.TargetCountry, ",") {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// LoadSources 加载 sources.yaml 数据文件。文件不存在时使用内置的默认源列表。
func LoadSources(fileName string) (*types.SourceList, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSources()
		}
		return nil, fmt.Errorf("failed to read sources file: %w", err)
	}
	return parseSources(data, fileName)
}

// DefaultSources returns the source list compiled into the binary.
func DefaultSources() (*types.SourceList, error) {
	return parseSources(defaultSourcesYAML, "embedded default_sources.yaml")
}

func parseSources(data []byte, origin string) (*types.SourceList, error) {
	var list types.SourceList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", origin, err)
	}
	for _, group := range [][]types.Source{list.Normal, list.Emergency} {
		for i, s := range group {
			if s.URL == "" {
				return nil, fmt.Errorf("%s: source #%d has no url", origin, i+1)
			}
			if !types.KnownSourceKind(s.Kind) {
				return nil, fmt.Errorf("%s: source %q has unknown type %q", origin, s.URL, s.Kind)
			}
		}
	}
	fillSourceNames(list.Normal)
	fillSourceNames(list.Emergency)
	return &list, nil
}

func fillSourceNames(sources []types.Source) {
	for i := range sources {
		if sources[i].Name == "" {
			sources[i].Name = sources[i].URL
		}
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}
