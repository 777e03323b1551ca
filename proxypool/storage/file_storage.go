package storage

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"gopkg.in/yaml.v3"

	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/proxypool/model"
)

// MetadataTimeLayout is the format of Metadata.LastUpdated.
const MetadataTimeLayout = "2006-01-02 15:04:05"

// Metadata 是写在 proxies 之后的运行摘要。
type Metadata struct {
	TotalCount       int    `yaml:"total_count" json:"total_count"`
	ActiveCount      int    `yaml:"active_count" json:"active_count"`
	LastUpdated      string `yaml:"last_updated" json:"last_updated"`
	RetentionDays    int    `yaml:"retention_days" json:"retention_days"`
	MinProxies       int    `yaml:"min_proxies" json:"min_proxies"`
	SourcesUsed      int    `yaml:"sources_used" json:"sources_used"`
	SourcesFailed    int    `yaml:"sources_failed" json:"sources_failed"`
	LogRetentionDays int    `yaml:"log_retention_days" json:"log_retention_days"`
	LogFile          string `yaml:"log_file,omitempty" json:"log_file,omitempty"`
	RunID            string `yaml:"run_id,omitempty" json:"run_id,omitempty"`
}

// Document is the persisted pool.
type Document struct {
	Proxies  []*model.ProxyRecord `yaml:"proxies" json:"proxies"`
	Metadata Metadata             `yaml:"metadata" json:"metadata"`
}

// Storage 接口定义了代理数据持久化的行为。
type Storage interface {
	Load() (*Document, error)
	Save(doc *Document) error
}

// YAMLStorage 实现了 Storage 接口，使用单个 YAML 文件进行持久化。
type YAMLStorage struct {
	filePath string
	mu       sync.RWMutex
}

func NewYAMLStorage(filePath string) *YAMLStorage {
	return &YAMLStorage{
		filePath: filePath,
	}
}

func (fs *YAMLStorage) Path() string {
	return fs.filePath
}

// Load reads the pool document. A missing or empty file yields an empty document.
func (fs *YAMLStorage) Load() (*Document, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	l := logger.WithComponent("ProxyPool/Storage")

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Info().Str("path", fs.filePath).Msg("Proxy data file not found, starting with an empty pool.")
			return &Document{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", fs.filePath, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		l.Info().Str("path", fs.filePath).Msg("Proxy data file is empty, starting with an empty pool.")
		return &Document{}, nil
	}

	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", fs.filePath, err)
	}

	proxies := doc.Proxies[:0]
	dropped := 0
	for _, p := range doc.Proxies {
		if !normalizeRecord(p) {
			dropped++
			continue
		}
		proxies = append(proxies, p)
	}
	doc.Proxies = proxies

	if dropped > 0 {
		l.Warn().Int("dropped", dropped).Msg("Dropped stored records without server, port, type or added_date.")
	}
	l.Info().Int("count", len(doc.Proxies)).Msg("Successfully loaded proxies from file.")
	return &doc, nil
}

// Save replaces the file atomically: the document is written to a temp file in the same
// directory and renamed over the target.
func (fs *YAMLStorage) Save(doc *Document) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("ProxyPool/Storage")

	if doc == nil {
		doc = &Document{}
	}
	if doc.Proxies == nil {
		doc.Proxies = []*model.ProxyRecord{}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode pool: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode pool: %w", err)
	}

	dir := filepath.Dir(fs.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fs.filePath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, fs.filePath); err != nil {
		return fmt.Errorf("replace %s: %w", fs.filePath, err)
	}

	l.Info().Int("count", len(doc.Proxies)).Str("path", fs.filePath).Msg("Successfully saved proxies to file.")
	return nil
}

// normalizeRecord fills the defaults of a stored record and reports whether it is usable.
func normalizeRecord(p *model.ProxyRecord) bool {
	if p == nil || p.Address == "" || !model.ValidPort(p.Port) || p.Protocol == "" || p.AddedDate == "" {
		return false
	}
	if p.Name == "" {
		p.Name = p.HostPort()
	}
	if p.Country == "" {
		p.Country = model.DefaultCountry
	}
	if p.LastChecked == "" {
		p.LastChecked = p.AddedDate
	}
	fixAlterID(p)
	if p.Protocol == model.ProtoVMess && p.AlterID == nil {
		zero := 0
		p.AlterID = &zero
	}
	return true
}

// fixAlterID moves the misspelled "alterld" key written by older tooling into AlterID.
func fixAlterID(p *model.ProxyRecord) {
	raw, ok := p.Extra["alterld"]
	if !ok {
		return
	}
	delete(p.Extra, "alterld")
	if p.AlterID != nil {
		return
	}

	var id int
	switch v := raw.(type) {
	case int:
		id = v
	case float64:
		id = int(v)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return
		}
		id = n
	default:
		return
	}
	p.AlterID = &id
}
