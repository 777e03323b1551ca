// Package export turns the pool into a Clash configuration and a base64 subscription.
package export

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"irproxy_pool/internal/shared/logger"
	"irproxy_pool/proxypool/model"
)

const (
	AutoSelectGroup = "🚀 Auto Select"
	ProxyGroup      = "🌍 Proxy"

	URLTestTarget   = "http://www.gstatic.com/generate_204"
	URLTestInterval = 300

	ClashFileName           = "clash_config.yaml"
	SubscriptionFileName    = "subscription.txt"
	SubscriptionURLFileName = "subscription_url.txt"

	DefaultRepository = "your-username/your-repo"
	DefaultBranch     = "main"

	// vmess entries are exported with at least this alterId.
	minVMessAlterID = 4
)

// DefaultRules routes the usual blocked services through the proxy group and Iranian
// destinations directly.
var DefaultRules = []string{
	"DOMAIN-SUFFIX,google.com," + ProxyGroup,
	"DOMAIN-SUFFIX,youtube.com," + ProxyGroup,
	"DOMAIN-SUFFIX,telegram.org," + ProxyGroup,
	"GEOIP,IR,DIRECT",
	"MATCH," + ProxyGroup,
}

// ClashProxy is one entry of the proxies list, in Clash field order.
type ClashProxy struct {
	Name     string           `yaml:"name"`
	Type     model.Protocol   `yaml:"type"`
	Server   string           `yaml:"server"`
	Port     int              `yaml:"port"`
	UDP      bool             `yaml:"udp"`
	UUID     string           `yaml:"uuid,omitempty"`
	AlterID  *int             `yaml:"alterId,omitempty"`
	Cipher   string           `yaml:"cipher,omitempty"`
	Password string           `yaml:"password,omitempty"`
	TLS      bool             `yaml:"tls,omitempty"`
	SNI      string           `yaml:"sni,omitempty"`
	Network  string           `yaml:"network,omitempty"`
	WSOpts   *model.WSOptions `yaml:"ws-opts,omitempty"`
}

type ClashGroup struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Proxies  []string `yaml:"proxies"`
	URL      string   `yaml:"url,omitempty"`
	Interval int      `yaml:"interval,omitempty"`
}

type ClashConfig struct {
	Proxies     []ClashProxy `yaml:"proxies"`
	ProxyGroups []ClashGroup `yaml:"proxy-groups"`
	Rules       []string     `yaml:"rules"`
}

// Options tunes the export.
type Options struct {
	OnlyActive bool
	Repository string
	Branch     string
}

// BuildClash converts the pool into a Clash config. Names are made unique.
func BuildClash(pool []*model.ProxyRecord, opts Options) *ClashConfig {
	cfg := &ClashConfig{
		Proxies: make([]ClashProxy, 0, len(pool)),
		Rules:   append([]string(nil), DefaultRules...),
	}

	used := make(map[string]int, len(pool))
	names := make([]string, 0, len(pool))
	for _, p := range pool {
		if p == nil || (opts.OnlyActive && !p.IsActive) {
			continue
		}
		cp := toClash(p)
		cp.Name = uniqueName(cp.Name, used)
		cfg.Proxies = append(cfg.Proxies, cp)
		names = append(names, cp.Name)
	}

	// url-test needs at least one member.
	autoMembers := names
	if len(autoMembers) == 0 {
		autoMembers = []string{"DIRECT"}
	}
	cfg.ProxyGroups = []ClashGroup{
		{
			Name:     AutoSelectGroup,
			Type:     "url-test",
			Proxies:  autoMembers,
			URL:      URLTestTarget,
			Interval: URLTestInterval,
		},
		{
			Name:    ProxyGroup,
			Type:    "select",
			Proxies: []string{AutoSelectGroup, "DIRECT"},
		},
	}
	return cfg
}

func toClash(p *model.ProxyRecord) ClashProxy {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = fmt.Sprintf("%s:%d", p.Address, p.Port)
	}
	cp := ClashProxy{
		Name:   name,
		Type:   p.Protocol,
		Server: p.Address,
		Port:   p.Port,
		UDP:    true,
	}

	switch p.Protocol {
	case model.ProtoVMess:
		alter := 0
		if p.AlterID != nil {
			alter = *p.AlterID
		}
		if alter < minVMessAlterID {
			alter = minVMessAlterID
		}
		cp.UUID = p.UUID
		cp.AlterID = &alter
		cp.Cipher = p.Cipher
		if cp.Cipher == "" {
			cp.Cipher = "auto"
		}
		cp.TLS = p.TLS
		if p.Network == "ws" {
			cp.Network = "ws"
			cp.WSOpts = p.WSOpts
		}
		if cp.TLS {
			cp.SNI = p.SNI
			if cp.SNI == "" {
				cp.SNI = p.Address
			}
		}
	case model.ProtoVLESS:
		cp.UUID = p.UUID
		cp.TLS = p.TLS
		if p.Network != "" && p.Network != "tcp" {
			cp.Network = p.Network
			cp.WSOpts = p.WSOpts
		}
		if cp.TLS {
			cp.SNI = p.SNI
		}
	case model.ProtoSS:
		cp.Cipher = p.Cipher
		cp.Password = p.Password
	}
	return cp
}

func uniqueName(name string, used map[string]int) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	for {
		n++
		candidate := fmt.Sprintf("%s #%d", name, n)
		if used[candidate] == 0 {
			used[candidate] = 1
			used[name] = n
			return candidate
		}
	}
}

// Marshal renders the config as YAML with two-space indentation.
func (c *ClashConfig) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Subscription is the standard base64 encoding of the Clash YAML.
func Subscription(clashYAML []byte) string {
	return base64.StdEncoding.EncodeToString(clashYAML)
}

// SubscriptionURL is the raw GitHub address the subscription is published under.
func SubscriptionURL(repository, branch string) string {
	if repository == "" {
		repository = DefaultRepository
	}
	if branch == "" {
		branch = DefaultBranch
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/output/%s", repository, branch, SubscriptionFileName)
}

// Result lists what WriteAll produced.
type Result struct {
	ClashPath       string
	SubscriptionURL string
	Proxies         int
}

// WriteAll writes clash_config.yaml, subscription.txt and subscription_url.txt into dir.
func WriteAll(dir string, pool []*model.ProxyRecord, opts Options) (*Result, error) {
	l := logger.WithComponent("ProxyPool/Export")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}

	cfg := BuildClash(pool, opts)
	data, err := cfg.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encode clash config: %w", err)
	}

	clashPath := filepath.Join(dir, ClashFileName)
	if err := os.WriteFile(clashPath, data, 0644); err != nil {
		return nil, fmt.Errorf("write %s: %w", clashPath, err)
	}
	if err := os.WriteFile(filepath.Join(dir, SubscriptionFileName), []byte(Subscription(data)), 0644); err != nil {
		return nil, fmt.Errorf("write subscription: %w", err)
	}
	url := SubscriptionURL(opts.Repository, opts.Branch)
	if err := os.WriteFile(filepath.Join(dir, SubscriptionURLFileName), []byte(url), 0644); err != nil {
		return nil, fmt.Errorf("write subscription url: %w", err)
	}

	l.Info().Int("proxies", len(cfg.Proxies)).Str("path", clashPath).Str("subscription_url", url).Msg("Clash config and subscription written.")
	return &Result{ClashPath: clashPath, SubscriptionURL: url, Proxies: len(cfg.Proxies)}, nil
}
