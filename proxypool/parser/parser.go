// Package parser turns raw source lines into proxy records. Plain "ip:port" lists are parsed
// here; vmess://, vless:// and ss:// share links go through vpnparser (see sharelink.go).
package parser

import (
	"bufio"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"irproxy_pool/proxypool/model"
)

// Kinds understood by ParseLine. "mixed" lists carry http entries as ip:port and socks5 entries
// with extra colon-separated fields.
const (
	KindHTTP   = "http"
	KindSOCKS5 = "socks5"
	KindMixed  = "mixed"
	KindVMess  = "vmess"
	KindVLESS  = "vless"
	KindSS     = "ss"
)

var (
	// ErrSkip means the line is not meant for this kind (comment, blank, other scheme).
	ErrSkip = errors.New("line skipped")

	ipv4Regex = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// IsIPv4 reports whether s looks like a dotted IPv4 address.
func IsIPv4(s string) bool {
	return ipv4Regex.MatchString(s)
}

// ParseBody splits a fetched body into lines and parses each one. Subscription bodies that are
// entirely base64 are decoded first. invalid counts lines that looked relevant but failed.
func ParseBody(body, kind string) (records []*model.ProxyRecord, invalid int) {
	if decoded, ok := DecodeSubscription(body); ok {
		body = decoded
	}

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p, err := ParseLine(scanner.Text(), kind)
		if err != nil {
			if !errors.Is(err, ErrSkip) {
				invalid++
			}
			continue
		}
		records = append(records, p)
	}
	return records, invalid
}

// ParseLine parses a single line according to the source kind.
func ParseLine(line, kind string) (*model.ProxyRecord, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, ErrSkip
	}

	switch kind {
	case KindVMess:
		if !strings.HasPrefix(line, "vmess://") {
			return nil, ErrSkip
		}
		return ParseVMess(line)
	case KindVLESS:
		if !strings.HasPrefix(line, "vless://") {
			return nil, ErrSkip
		}
		return ParseVLESS(line)
	case KindSS:
		if !strings.HasPrefix(line, "ss://") {
			return nil, ErrSkip
		}
		return ParseSS(line)
	case KindHTTP, KindSOCKS5, KindMixed:
		if !strings.Contains(line, ":") {
			return nil, ErrSkip
		}
		return ParsePlain(line, kind)
	}
	return nil, fmt.Errorf("unknown source kind %q", kind)
}

// ParsePlain parses "ip:port[:user:pass]" lines, with an optional scheme prefix.
func ParsePlain(line, kind string) (*model.ProxyRecord, error) {
	normalized := model.NormalizeAddress(line)
	parts := strings.Split(normalized, ":")
	if len(parts) < 2 {
		return nil, fmt.Errorf("missing port in %q", line)
	}

	host := strings.TrimSpace(parts[0])
	if !IsIPv4(host) {
		return nil, fmt.Errorf("not an IPv4 address: %q", host)
	}
	port, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || !model.ValidPort(port) {
		return nil, fmt.Errorf("invalid port in %q", line)
	}

	proto := model.ProtoHTTP
	switch kind {
	case KindSOCKS5:
		proto = model.ProtoSOCKS5
	case KindMixed:
		if len(parts) > 2 {
			proto = model.ProtoSOCKS5
		}
	}

	return &model.ProxyRecord{
		Protocol: proto,
		Address:  host,
		Port:     port,
	}, nil
}

// DecodeBase64 tries the padded, raw, standard and URL alphabets in turn.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	decoders := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range decoders {
		out, err := enc.DecodeString(s)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// DecodeSubscription recognizes a body that is a single base64 blob of share links and
// returns the decoded text.
func DecodeSubscription(body string) (string, bool) {
	compact := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, body)
	if len(compact) < 32 || strings.Contains(compact, "://") || strings.Contains(compact, ":") {
		return "", false
	}

	payload, err := DecodeBase64(compact)
	if err != nil || len(payload) == 0 || !utf8.Valid(payload) {
		return "", false
	}
	decoded := strings.TrimSpace(string(payload))
	if !strings.Contains(decoded, "://") {
		return "", false
	}
	return decoded, true
}
