package config

// ConfigDiff describes what changed between two configs reloaded by a
// [Watcher]. Only fields that are safe to apply without a process restart
// are tracked; provider identity changes are reported so the caller can log
// a warning (existing per-call connectors are never swapped mid-call).
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProviderChanged map[string]bool // keyed by "llm", "stt", "tts", "embeddings"

	MCPServersChanged bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{ProviderChanged: make(map[string]bool, 4)}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Providers.LLM.Name != new.Providers.LLM.Name {
		d.ProviderChanged["llm"] = true
	}
	if old.Providers.STT.Name != new.Providers.STT.Name {
		d.ProviderChanged["stt"] = true
	}
	if old.Providers.TTS.Name != new.Providers.TTS.Name {
		d.ProviderChanged["tts"] = true
	}
	if old.Providers.Embeddings.Name != new.Providers.Embeddings.Name {
		d.ProviderChanged["embeddings"] = true
	}

	d.MCPServersChanged = !mcpServersEqual(old.MCP.Servers, new.MCP.Servers)

	return d
}

// mcpServersEqual reports whether a and b contain the same set of servers,
// regardless of order. Env is excluded from the comparison (it rarely
// changes independently of Command and isn't worth tracking precisely here).
func mcpServersEqual(a, b []MCPServerConfig) bool {
	if len(a) != len(b) {
		return false
	}
	remaining := make([]MCPServerConfig, len(b))
	copy(remaining, b)
	for _, srv := range a {
		found := -1
		for i, candidate := range remaining {
			if srv.Name == candidate.Name && srv.Transport == candidate.Transport &&
				srv.Command == candidate.Command && srv.URL == candidate.URL {
				found = i
				break
			}
		}
		if found == -1 {
			return false
		}
		remaining = append(remaining[:found], remaining[found+1:]...)
	}
	return len(remaining) == 0
}
