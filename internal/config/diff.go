package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart and is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DefaultVoiceChanged bool
	NewDefaultVoice     string

	SamplingChanged bool

	// RestartRequired lists sections whose changes are ignored until restart.
	RestartRequired []string
}

// Changed reports whether anything hot-reloadable changed.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.DefaultVoiceChanged || d.SamplingChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Tokens.DefaultVoice != new.Tokens.DefaultVoice {
		d.DefaultVoiceChanged = true
		d.NewDefaultVoice = new.Tokens.DefaultVoice
	}

	o, n := old.Tokens, new.Tokens
	if o.MaxTokens != n.MaxTokens || o.Temperature != n.Temperature ||
		o.TopP != n.TopP || o.RepeatPenalty != n.RepeatPenalty {
		d.SamplingChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.MCP != new.Server.MCP ||
		!tlsEqual(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !codecEqual(old.Codec, new.Codec) {
		d.RestartRequired = append(d.RestartRequired, "codec")
	}
	if !sourcesEqual(o, n) {
		d.RestartRequired = append(d.RestartRequired, "tokens")
	}
	if old.Decoder != new.Decoder {
		d.RestartRequired = append(d.RestartRequired, "decoder")
	}
	if old.Bridge != new.Bridge {
		d.RestartRequired = append(d.RestartRequired, "bridge")
	}
	if old.Journal != new.Journal {
		d.RestartRequired = append(d.RestartRequired, "journal")
	}
	return d
}

func tlsEqual(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func codecEqual(a, b CodecConfig) bool {
	if a.IsSerialized() != b.IsSerialized() {
		return false
	}
	a.Serialized, b.Serialized = nil, nil
	return a == b
}

func sourcesEqual(a, b TokensConfig) bool {
	if a.Primary != b.Primary || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if a.Fallbacks[i] != b.Fallbacks[i] {
			return false
		}
	}
	return true
}
