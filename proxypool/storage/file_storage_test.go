package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"irproxy_pool/proxypool/model"
)

func TestLoad_MissingAndEmpty(t *testing.T) {
	dir := t.TempDir()

	doc, err := NewYAMLStorage(filepath.Join(dir, "nope.yaml")).Load()
	if err != nil {
		t.Fatalf("Load on a missing file failed: %v", err)
	}
	if len(doc.Proxies) != 0 {
		t.Errorf("Expected an empty pool, got %d", len(doc.Proxies))
	}

	empty := filepath.Join(dir, "empty.yaml")
	os.WriteFile(empty, []byte("\n  \n"), 0644)
	doc, err = NewYAMLStorage(empty).Load()
	if err != nil || len(doc.Proxies) != 0 {
		t.Errorf("Expected an empty pool from a blank file, got %v / %v", doc, err)
	}
}

func TestLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("proxies: [this is: not: yaml"), 0644)
	if _, err := NewYAMLStorage(path).Load(); err == nil {
		t.Error("Expected an error for a corrupt file")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out", "config.yaml")
	s := NewYAMLStorage(path)

	ping := 120
	alter := 0
	doc := &Document{
		Proxies: []*model.ProxyRecord{
			{
				Name: "5.160.1.1:8080 (120ms)", Protocol: model.ProtoHTTP, Address: "5.160.1.1", Port: 8080,
				AddedDate: "2026-10-14", LastChecked: "2026-10-15", IsActive: true, Country: "IR", PingMs: &ping,
			},
			{
				Name: "node", Protocol: model.ProtoVMess, Address: "v.example.ir", Port: 443,
				AddedDate: "2026-10-15", LastChecked: "2026-10-15", Country: "IR",
				UUID: "b831381d-6324-4d53-ad4f-8cda48b30811", AlterID: &alter, Cipher: "auto", Network: "ws",
				TLS: true, WSOpts: &model.WSOptions{Path: "/ws", Headers: map[string]string{"Host": "v.example.ir"}},
				Extra: map[string]interface{}{"skip-cert-verify": true},
			},
		},
		Metadata: Metadata{TotalCount: 2, ActiveCount: 1, LastUpdated: "2026-10-15 10:00:00", RetentionDays: 3, MinProxies: 50},
	}
	if err := s.Save(doc); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("Expected only the target file after save, got %d entries", len(entries))
	}

	raw, _ := os.ReadFile(path)
	text := string(raw)
	for _, want := range []string{"proxies:", "metadata:", "server: 5.160.1.1", "type: vmess", "skip-cert-verify: true"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected %q in saved file:\n%s", want, text)
		}
	}

	got, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(got.Proxies) != 2 || got.Metadata.MinProxies != 50 {
		t.Fatalf("Unexpected document %+v", got)
	}
	if got.Proxies[0].PingMs == nil || *got.Proxies[0].PingMs != 120 {
		t.Errorf("Expected ping 120, got %v", got.Proxies[0].PingMs)
	}
	v := got.Proxies[1]
	if v.WSOpts == nil || v.WSOpts.Path != "/ws" || v.Extra["skip-cert-verify"] != true {
		t.Errorf("Unexpected vmess record %+v", v)
	}
}

func TestSave_Overwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	s := NewYAMLStorage(path)
	s.Save(&Document{Proxies: []*model.ProxyRecord{{Address: "1.1.1.1", Port: 1, Protocol: model.ProtoHTTP}}})
	if err := s.Save(&Document{}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, _ := s.Load()
	if len(got.Proxies) != 0 {
		t.Errorf("Expected the second save to replace the pool, got %d records", len(got.Proxies))
	}
}

func TestLoad_FixesAlterID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte(`proxies:
  - name: a
    type: vmess
    server: 5.160.1.1
    port: 443
    added_date: "2026-10-10"
    uuid: u
    alterld: 64
  - name: b
    type: vmess
    server: 5.160.1.2
    port: 443
    added_date: "2026-10-10"
    uuid: u
    alterId: 2
    alterld: 9
`), 0644)

	doc, err := NewYAMLStorage(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	a, b := doc.Proxies[0], doc.Proxies[1]
	if a.AlterID == nil || *a.AlterID != 64 {
		t.Errorf("Expected alterId 64, got %v", a.AlterID)
	}
	if _, ok := a.Extra["alterld"]; ok {
		t.Error("Expected the misspelled key to be removed")
	}
	if b.AlterID == nil || *b.AlterID != 2 {
		t.Errorf("Expected an explicit alterId to win, got %v", b.AlterID)
	}
}

func TestLoad_AppliesRecordDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte(`proxies:
  - type: http
    server: 5.1.1.1
    port: 80
    added_date: "2026-10-01"
  - name: explicit
    type: socks5
    server: 5.1.1.2
    port: 1080
    added_date: "2026-10-02"
    last_checked: "2026-10-14"
    is_active: false
    country: DE
  - type: vmess
    server: 5.1.1.3
    port: 443
    added_date: "2026-10-03"
  - name: no-server
    type: http
    port: 0
    added_date: "2026-10-01"
  - type: http
    server: 5.1.1.4
    port: 8080
  - server: 5.1.1.5
    port: 8080
    added_date: "2026-10-01"
`), 0644)

	doc, err := NewYAMLStorage(path).Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(doc.Proxies) != 3 {
		t.Fatalf("Expected 3 usable records, got %d", len(doc.Proxies))
	}

	legacy := doc.Proxies[0]
	if !legacy.IsActive {
		t.Error("Expected a record without is_active to load as active")
	}
	if legacy.Country != "IR" || legacy.LastChecked != "2026-10-01" || legacy.Name != "5.1.1.1:80" {
		t.Errorf("Unexpected defaults: country=%q last_checked=%q name=%q", legacy.Country, legacy.LastChecked, legacy.Name)
	}

	explicit := doc.Proxies[1]
	if explicit.IsActive || explicit.Country != "DE" || explicit.LastChecked != "2026-10-14" || explicit.Name != "explicit" {
		t.Errorf("Expected stored values to be kept, got %+v", explicit)
	}

	if vm := doc.Proxies[2]; vm.AlterID == nil || *vm.AlterID != 0 {
		t.Errorf("Expected vmess alterId to default to 0, got %v", vm.AlterID)
	}
}
