package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWriteBanner_ShowsRuntimeSettings(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Environment = "test"
	cfg.Storage = StorageConfig{Backend: "surrealdb", Address: "ws://db:8000/rpc", Namespace: "tally", Database: "main"}
	cfg.Clients.Splitwise.APIKey = "key"
	cfg.Clients.Splitwise.AccountID = "checking"

	var buf bytes.Buffer
	writeBanner(&buf, cfg)
	out := buf.String()

	assert.Contains(t, out, "Personal Finance Ledger")
	assert.Contains(t, out, "surrealdb ws://db:8000/rpc (tally/main)")
	assert.Contains(t, out, "every 3h0m0s")
	assert.Contains(t, out, "every 1h0m0s, account checking")
	assert.Contains(t, out, GetVersion())
}

func TestBannerFields_SplitwiseDisabled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Storage.Backend = "memory"

	fields := bannerFields(cfg)
	values := make(map[string]string, len(fields))
	for _, f := range fields {
		values[f.key] = f.value
	}
	assert.Equal(t, "disabled", values["Splitwise"])
	assert.Equal(t, "memory", values["Storage"])
}
