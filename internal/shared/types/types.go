package types

// Source kinds. Text kinds are parsed line by line, html-* kinds are scraped from tables and
// json-geonode is the geonode.com API shape.
const (
	SourceHTTP        = "http"
	SourceSOCKS5      = "socks5"
	SourceMixed       = "mixed"
	SourceVMess       = "vmess"
	SourceVLESS       = "vless"
	SourceSS          = "ss"
	SourceHTMLHTTP    = "html-http"
	SourceHTMLSOCKS5  = "html-socks5"
	SourceJSONGeonode = "json-geonode"
)

// Source 描述一个代理来源
type Source struct {
	URL  string `yaml:"url" json:"url"`
	Kind string `yaml:"type" json:"type"`
	Name string `yaml:"name" json:"name"`
}

// SourceList 是 sources.yaml 的文档结构
type SourceList struct {
	Normal    []Source `yaml:"normal"`
	Emergency []Source `yaml:"emergency"`
}

// KnownSourceKind reports whether kind is one the fetcher can handle.
func KnownSourceKind(kind string) bool {
	switch kind {
	case SourceHTTP, SourceSOCKS5, SourceMixed, SourceVMess, SourceVLESS, SourceSS,
		SourceHTMLHTTP, SourceHTMLSOCKS5, SourceJSONGeonode:
		return true
	}
	return false
}
