package types

// CommonConf 包含所有可执行程序共用的路径配置
type CommonConf struct {
	DataFile      string `ini:"data_file"`      // 代理池持久化文件 (config.yaml)
	SourcesFile   string `ini:"sources_file"`   // 代理源列表 (sources.yaml)
	TargetCountry string `ini:"target_country"` // 普通源的国家过滤, 逗号分隔, 空表示不过滤
}

// LogConf contains logging specific configuration
type LogConf struct {
	Level         string `ini:"level"`
	Dir           string `ini:"dir"`            // empty disables per-run log files
	RetentionDays int    `ini:"retention_days"` // run logs older than this are removed
}

// PoolConf 对应保留策略的两个参数
type PoolConf struct {
	MinPoolSize   int `ini:"min_pool_size"`
	RetentionDays int `ini:"retention_days"`
}

// FetchConf 控制代理源抓取与存活探测
type FetchConf struct {
	Retries                 int     `ini:"retries"`
	TimeoutSeconds          int     `ini:"timeout_seconds"`
	RetryBackoffSeconds     int     `ini:"retry_backoff_seconds"`
	ForbiddenBackoffSeconds int     `ini:"forbidden_backoff_seconds"`
	SourcesPerSecond        float64 `ini:"sources_per_second"`
	ProbeMode               string  `ini:"probe_mode"` // tcp | handshake
	ProbeTimeoutSeconds     int     `ini:"probe_timeout_seconds"`
	ProbeConcurrency        int     `ini:"probe_concurrency"`
}

// GeoConf 控制国家识别
type GeoConf struct {
	MMDBPath          string  `ini:"mmdb_path"`
	Services          string  `ini:"services"` // ip-api,ipapi,ipinfo
	TimeoutSeconds    int     `ini:"timeout_seconds"`
	MaxRetries        int     `ini:"max_retries"`
	RequestsPerSecond float64 `ini:"requests_per_second"`
}

// ExportConf 控制 Clash 配置与订阅输出
type ExportConf struct {
	OutputDir  string `ini:"output_dir"`
	OnlyActive bool   `ini:"only_active"`
	Repository string `ini:"repository"` // owner/repo used in subscription_url.txt
	Branch     string `ini:"branch"`
}

// WebConf 订阅服务器配置
type WebConf struct {
	Port     int    `ini:"port"`
	User     string `ini:"user"`
	Password string `ini:"password"`
}

// Config 是统一的行为配置结构体，对应 configs/irproxy.ini
type Config struct {
	CommonConf `ini:"common"`
	LogConf    `ini:"log"`
	PoolConf   `ini:"pool"`
	FetchConf  `ini:"fetch"`
	GeoConf    `ini:"geo"`
	ExportConf `ini:"export"`
	WebConf    `ini:"web"`
}
