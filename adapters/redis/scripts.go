package redis

import (
	"context"
	"embed"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Script names resolvable through the host.
const (
	ScriptBest       = "best"
	ScriptRangeScore = "rangescore"
	ScriptAround     = "around"
	ScriptKeepTop    = "keeptop"
)

var scriptNames = []string{ScriptBest, ScriptRangeScore, ScriptAround, ScriptKeepTop}

//go:embed lua/*.lua
var luaFS embed.FS

// ScriptHost registers the embedded Lua scripts with the server once and
// resolves script names to their server-assigned SHA1 digests. After Prepare
// succeeds the digest table is read-only and safe to share.
type ScriptHost struct {
	client *redis.Client

	mu     sync.Mutex
	loaded bool
	shas   map[string]string
}

// NewScriptHost creates a host bound to the given client.
func NewScriptHost(client *redis.Client) *ScriptHost {
	return &ScriptHost{client: client, shas: make(map[string]string, len(scriptNames))}
}

// Prepare loads every script and records its digest. It is idempotent and
// thread-safe; only the first successful call performs work. A failed load
// leaves the host unprepared so a later call can retry.
func (h *ScriptHost) Prepare(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded {
		return nil
	}
	for _, name := range scriptNames {
		src, err := luaFS.ReadFile("lua/" + name + ".lua")
		if err != nil {
			return fmt.Errorf("read script %s: %w", name, err)
		}
		sha, err := h.client.ScriptLoad(ctx, string(src)).Result()
		if err != nil {
			return fmt.Errorf("load script %s: %w", name, err)
		}
		h.shas[name] = sha
	}
	h.loaded = true
	return nil
}

// Sha resolves a script name to its digest, preparing the host first if
// needed.
func (h *ScriptHost) Sha(ctx context.Context, name string) (string, error) {
	if err := h.Prepare(ctx); err != nil {
		return "", err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	sha, ok := h.shas[name]
	if !ok {
		return "", fmt.Errorf("unknown script %q", name)
	}
	return sha, nil
}
