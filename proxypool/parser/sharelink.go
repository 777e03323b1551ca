package parser

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/gvcgo/vpnparser/pkgs/outbound"

	"irproxy_pool/proxypool/model"
)

// singBoxOutbound 只取 vpnparser 生成的 sing-box outbound 中我们需要的字段。
// server/server_port 以 ProxyItem 上的 Address/Port 为准。
type singBoxOutbound struct {
	UUID     string          `json:"uuid"`
	AlterID  json.RawMessage `json:"alter_id"`
	Security string          `json:"security"`
	Method   string          `json:"method"`
	Password string          `json:"password"`
	TLS      struct {
		Enabled    bool   `json:"enabled"`
		ServerName string `json:"server_name"`
	} `json:"tls"`
	Transport struct {
		Type    string                     `json:"type"`
		Path    string                     `json:"path"`
		Headers map[string]json.RawMessage `json:"headers"`
	} `json:"transport"`
}

// header returns a transport header that sing-box may write as a string or a list.
func (o *singBoxOutbound) header(name string) string {
	raw, ok := o.Transport.Headers[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

// ParseShareLink decodes a vmess://, vless:// or ss:// link into a record.
func ParseShareLink(line string) (*model.ProxyRecord, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "ss://") {
		line = expandLegacySS(line)
	}

	item := outbound.ParseRawUriToProxyItem(line, outbound.SingBox)
	if item == nil {
		return nil, fmt.Errorf("unknown protocol or invalid link")
	}
	if item.Address == "" || !model.ValidPort(item.Port) {
		return nil, fmt.Errorf("%s link missing address or port", item.Scheme)
	}

	var ob singBoxOutbound
	if out := item.GetOutbound(); out != "" {
		if err := json.Unmarshal([]byte(out), &ob); err != nil {
			return nil, fmt.Errorf("%s outbound: %w", item.Scheme, err)
		}
	}

	p := &model.ProxyRecord{
		Address: model.NormalizeAddress(strings.Trim(item.Address, "[]")),
		Port:    item.Port,
		UDP:     true,
	}

	switch strings.ToLower(item.Scheme) {
	case "vmess":
		p.Protocol = model.ProtoVMess
		aid := atoiLoose(ob.AlterID)
		p.AlterID = &aid
		p.Cipher = ob.Security
		if p.Cipher == "" {
			p.Cipher = "auto"
		}
	case "vless":
		p.Protocol = model.ProtoVLESS
	case "ss", "shadowsocks":
		p.Protocol = model.ProtoSS
		if ob.Method == "" {
			return nil, fmt.Errorf("ss link missing method or password")
		}
		p.Cipher = ob.Method
		p.Password = ob.Password
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q", item.Scheme)
	}

	p.UUID = ob.UUID
	p.TLS = ob.TLS.Enabled
	p.SNI = ob.TLS.ServerName
	p.Network = ob.Transport.Type
	if p.Network == "" {
		p.Network = "tcp"
	}
	if p.Network == "ws" {
		path := ob.Transport.Path
		if path == "" {
			path = "/"
		}
		p.WSOpts = &model.WSOptions{Path: path, Headers: map[string]string{"Host": ob.header("Host")}}
	}
	return p, nil
}

// ParseVMess decodes a vmess:// link.
func ParseVMess(line string) (*model.ProxyRecord, error) {
	return parseScheme(line, "vmess://", model.ProtoVMess)
}

// ParseVLESS decodes a vless:// link.
func ParseVLESS(line string) (*model.ProxyRecord, error) {
	return parseScheme(line, "vless://", model.ProtoVLESS)
}

// ParseSS decodes ss:// links in both SIP002 and the older whole-base64 form.
func ParseSS(line string) (*model.ProxyRecord, error) {
	return parseScheme(line, "ss://", model.ProtoSS)
}

func parseScheme(line, prefix string, want model.Protocol) (*model.ProxyRecord, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, prefix) {
		return nil, fmt.Errorf("not a %s link", want)
	}
	p, err := ParseShareLink(line)
	if err != nil {
		return nil, err
	}
	if p.Protocol != want {
		return nil, fmt.Errorf("expected a %s link, got %s", want, p.Protocol)
	}
	return p, nil
}

// expandLegacySS rewrites ss://BASE64(method:pass@host:port)#tag into the SIP002 form
// ss://BASE64URL(method:pass)@host:port#tag. Links already in SIP002 form are returned as is.
func expandLegacySS(line string) string {
	body, tag, _ := strings.Cut(strings.TrimPrefix(line, "ss://"), "#")
	if strings.Contains(body, "@") {
		return line
	}
	decoded, err := DecodeBase64(strings.TrimSuffix(body, "/"))
	if err != nil {
		return line
	}
	at := strings.LastIndex(string(decoded), "@")
	if at < 0 {
		return line
	}
	out := "ss://" + base64.RawURLEncoding.EncodeToString(decoded[:at]) + "@" + string(decoded[at+1:])
	if tag != "" {
		out += "#" + tag
	}
	return out
}

func atoiLoose(raw json.RawMessage) int {
	n, err := strconv.Atoi(strings.Trim(strings.TrimSpace(string(raw)), `"`))
	if err != nil {
		return 0
	}
	return n
}
