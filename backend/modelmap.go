package backend

// modelAliases maps public model names and aliases to the model ids the
// agent backend understands. Unknown names pass through unchanged so newer
// models work without a gateway release.
var modelAliases = map[string]string{
	"claude-opus-4-5-20251101":    "claude-opus-4-5-20251101",
	"claude-sonnet-4-5-20250514":  "claude-sonnet-4-5-20250514",
	"claude-haiku-4-5-20251001":   "claude-haiku-4-5-20251001",
	"claude-sonnet-4-20250514":    "claude-sonnet-4-20250514",
	"claude-opus-4-20250514":      "claude-opus-4-20250514",
	"claude-3-5-sonnet-latest":    "claude-sonnet-4-5-20250514",
	"claude-3-5-sonnet-20241022":  "claude-sonnet-4-5-20250514",
	"claude-3-opus-latest":        "claude-opus-4-5-20251101",
	"claude-3-5-haiku-latest":     "claude-haiku-4-5-20251001",
	"claude-opus-4-5":             "claude-opus-4-5-20251101",
}

// ResolveModel maps a requested model name to the backend model id.
func ResolveModel(name string) string {
	if mapped, ok := modelAliases[name]; ok {
		return mapped
	}
	return name
}
