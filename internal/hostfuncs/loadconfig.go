package hostfuncs

import (
	"context"

	"github.com/tetratelabs/wazero/api"
)

// loadConfig implements load_config() -> packed(ptr, len), handing the
// plugin's canonical YAML config text (internal/config.PluginConfig.CanonicalText)
// back to the guest on demand rather than at instantiation time, so a
// guest can re-read it mid-run if it wants to.
func loadConfig(ctx context.Context, mod api.Module) uint64 {
	s := FromContext(ctx)
	packed, ok := writeGuestResult(ctx, mod, []byte(s.ConfigText))
	if !ok {
		return 0
	}
	return packed
}
