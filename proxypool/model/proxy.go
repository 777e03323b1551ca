package model

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DateLayout 是 added_date / last_checked 在持久化文件中的格式。
const DateLayout = "2006-01-02"

// DefaultCountry is assumed for stored records that carry no country.
const DefaultCountry = "IR"

// UnknownCountry marks a record whose country could not be resolved.
const UnknownCountry = "UNKNOWN"

// Protocol is the proxy protocol a record speaks.
type Protocol string

const (
	ProtoHTTP   Protocol = "http"
	ProtoSOCKS5 Protocol = "socks5"
	ProtoVMess  Protocol = "vmess"
	ProtoVLESS  Protocol = "vless"
	ProtoSS     Protocol = "ss"
)

// ParseProtocol maps a free-form protocol label onto a Protocol.
// "https" is folded into http, "shadowsocks" into ss.
func ParseProtocol(s string) (Protocol, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "http", "https":
		return ProtoHTTP, true
	case "socks5", "socks", "socks5h":
		return ProtoSOCKS5, true
	case "vmess":
		return ProtoVMess, true
	case "vless":
		return ProtoVLESS, true
	case "ss", "shadowsocks":
		return ProtoSS, true
	}
	return "", false
}

// WSOptions mirrors the Clash ws-opts block.
type WSOptions struct {
	Path    string            `yaml:"path,omitempty" json:"path,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// ProxyRecord 是代理池中的最小单元，字段布局与 config.yaml 中的 proxies 条目一致。
//
// The retention engine only reads the identity fields, AddedDate and IsActive.
// Everything from UUID down is protocol payload and is carried through untouched.
type ProxyRecord struct {
	Name        string   `yaml:"name" json:"name"`
	Protocol    Protocol `yaml:"type" json:"type"`
	Address     string   `yaml:"server" json:"server"`
	Port        int      `yaml:"port" json:"port"`
	AddedDate   string   `yaml:"added_date" json:"added_date"`
	LastChecked string   `yaml:"last_checked" json:"last_checked"`
	IsActive    bool     `yaml:"is_active" json:"is_active"`
	Country     string   `yaml:"country" json:"country"`
	PingMs      *int     `yaml:"ping,omitempty" json:"ping,omitempty"`
	Source      string   `yaml:"source,omitempty" json:"source,omitempty"`
	SourceName  string   `yaml:"source_name,omitempty" json:"source_name,omitempty"`

	UUID     string     `yaml:"uuid,omitempty" json:"uuid,omitempty"`
	AlterID  *int       `yaml:"alterId,omitempty" json:"alterId,omitempty"`
	Cipher   string     `yaml:"cipher,omitempty" json:"cipher,omitempty"`
	Password string     `yaml:"password,omitempty" json:"password,omitempty"`
	Network  string     `yaml:"network,omitempty" json:"network,omitempty"`
	TLS      bool       `yaml:"tls,omitempty" json:"tls,omitempty"`
	SNI      string     `yaml:"sni,omitempty" json:"sni,omitempty"`
	UDP      bool       `yaml:"udp,omitempty" json:"udp,omitempty"`
	WSOpts   *WSOptions `yaml:"ws-opts,omitempty" json:"ws-opts,omitempty"`

	// Extra keeps keys this version does not know about so a load/save cycle is lossless.
	Extra map[string]interface{} `yaml:",inline" json:"-"`
}

// UnmarshalYAML decodes a stored record. A record written without is_active is taken as active.
func (p *ProxyRecord) UnmarshalYAML(value *yaml.Node) error {
	type plain ProxyRecord
	rec := plain{IsActive: true}
	if err := value.Decode(&rec); err != nil {
		return err
	}
	*p = ProxyRecord(rec)
	return nil
}

// Key is the identity of a record. Two records with the same Key are the same proxy.
type Key struct {
	Address  string
	Port     int
	Protocol Protocol
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%d-%s", k.Address, k.Port, k.Protocol)
}

// Key computes the identity key of the record.
func (p *ProxyRecord) Key() Key {
	return Key{
		Address:  strings.ToLower(strings.TrimSpace(p.Address)),
		Port:     p.Port,
		Protocol: Protocol(strings.ToLower(string(p.Protocol))),
	}
}

// Added parses AddedDate. ok is false when the date is missing or malformed.
func (p *ProxyRecord) Added() (t time.Time, ok bool) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(p.AddedDate))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// HostPort returns "address:port", bracketing IPv6 literals.
func (p *ProxyRecord) HostPort() string {
	if strings.Contains(p.Address, ":") && !strings.HasPrefix(p.Address, "[") {
		return fmt.Sprintf("[%s]:%d", p.Address, p.Port)
	}
	return fmt.Sprintf("%s:%d", p.Address, p.Port)
}

// SetProbe records the result of a liveness probe taken on day.
func (p *ProxyRecord) SetProbe(alive bool, pingMs int, day string) {
	p.IsActive = alive
	p.LastChecked = day
	if alive {
		ms := pingMs
		p.PingMs = &ms
		p.Name = fmt.Sprintf("%s (%dms)", p.HostPort(), pingMs)
		return
	}
	p.PingMs = nil
	p.Name = p.HostPort()
}

// Today formats now as a calendar date in the pool's date layout.
func Today(now time.Time) string {
	return now.Format(DateLayout)
}

var addressSchemes = []string{"http://", "https://", "socks4://", "socks5://", "socks://"}

// NormalizeAddress strips a scheme prefix, surrounding whitespace and case from a host.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	lower := strings.ToLower(addr)
	for _, scheme := range addressSchemes {
		if strings.HasPrefix(lower, scheme) {
			lower = lower[len(scheme):]
			break
		}
	}
	return strings.TrimSpace(lower)
}

// ValidPort reports whether port is in 1..65535.
func ValidPort(port int) bool {
	return port >= 1 && port <= 65535
}
