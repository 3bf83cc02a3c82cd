// Package configresolver implements the orchestrator.ConfigResolver used at
// call setup: a Redis cache-aside lookup in front of the management API's
// internal phone-number-to-agent endpoint.
//
// Grounded on internal/ragstore's cache-aside shape (redis.Get/Set around a
// slow backend call, fail-closed instead of ragstore's fail-open since an
// unresolved call must be rejected rather than proceed without config).
package configresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrWong99/glyphoxa/internal/orchestrator"
)

// cacheTTL is how long a resolved AgentConfig is cached under its phone
// number.
const cacheTTL = 300 * time.Second

// lookupTimeout bounds the management API round trip on a cache miss.
const lookupTimeout = 2 * time.Second

// Resolver implements orchestrator.ConfigResolver.
type Resolver struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
	cache       *redis.Client
	log         *slog.Logger
}

// New builds a Resolver. baseURL is the management API's base address (e.g.
// "http://management.internal"); internalKey is sent as X-Internal-Key on
// every lookup.
func New(baseURL, internalKey string, cache *redis.Client, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		baseURL:     baseURL,
		internalKey: internalKey,
		httpClient:  &http.Client{Timeout: lookupTimeout},
		cache:       cache,
		log:         log,
	}
}

// agentConfigDTO is the wire shape returned by the management API and cached
// in Redis; it's kept separate from orchestrator.AgentConfig so the wire
// format can evolve independently of the orchestrator's internal type.
type agentConfigDTO struct {
	AgentID             string  `json:"agent_id"`
	TenantID            string  `json:"tenant_id"`
	SystemPrompt        string  `json:"system_prompt"`
	VoiceID             string  `json:"voice_id"`
	PhoneNumber         string  `json:"phone_number"`
	OpeningLineTemplate string  `json:"opening_line_template"`
	VoiceStability      float64 `json:"voice_stability"`
	VoiceSimilarity     float64 `json:"voice_similarity"`
}

// Resolve implements orchestrator.ConfigResolver. found=false on cache miss
// + API 404, and on any other failure (API error, malformed response) — a
// setup failure is always safer than serving a stale or wrong agent
// identity for an unrecognized number.
func (r *Resolver) Resolve(ctx context.Context, phoneNumber string) (orchestrator.AgentConfig, bool) {
	key := cacheKey(phoneNumber)

	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, key).Bytes(); err == nil {
			var dto agentConfigDTO
			if json.Unmarshal(raw, &dto) == nil {
				return toAgentConfig(dto), true
			}
		} else if err != redis.Nil {
			r.log.Warn("configresolver: cache read failed", "phone_number", phoneNumber, "err", err)
		}
	}

	dto, ok := r.fetch(ctx, phoneNumber)
	if !ok {
		return orchestrator.AgentConfig{}, false
	}

	if r.cache != nil {
		if raw, err := json.Marshal(dto); err == nil {
			if err := r.cache.Set(ctx, key, raw, cacheTTL).Err(); err != nil {
				r.log.Warn("configresolver: cache write failed", "phone_number", phoneNumber, "err", err)
			}
		}
	}

	return toAgentConfig(dto), true
}

func (r *Resolver) fetch(ctx context.Context, phoneNumber string) (agentConfigDTO, bool) {
	fetchCtx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/internal/agent-config?phone_number=%s", r.baseURL, url.QueryEscape(phoneNumber))
	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		r.log.Error("configresolver: build request", "err", err)
		return agentConfigDTO{}, false
	}
	req.Header.Set("X-Internal-Key", r.internalKey)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.log.Warn("configresolver: lookup failed", "phone_number", phoneNumber, "err", err)
		return agentConfigDTO{}, false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return agentConfigDTO{}, false
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		r.log.Warn("configresolver: unexpected status", "phone_number", phoneNumber, "status", resp.StatusCode, "body", string(body))
		return agentConfigDTO{}, false
	}

	var dto agentConfigDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		r.log.Warn("configresolver: decode response", "phone_number", phoneNumber, "err", err)
		return agentConfigDTO{}, false
	}
	return dto, true
}

func cacheKey(phoneNumber string) string {
	return "agent_config:" + phoneNumber
}

func toAgentConfig(dto agentConfigDTO) orchestrator.AgentConfig {
	return orchestrator.AgentConfig{
		AgentID:             dto.AgentID,
		TenantID:            dto.TenantID,
		SystemPrompt:        dto.SystemPrompt,
		VoiceID:             dto.VoiceID,
		PhoneNumber:         dto.PhoneNumber,
		OpeningLineTemplate: dto.OpeningLineTemplate,
		VoiceStability:      dto.VoiceStability,
		VoiceSimilarity:     dto.VoiceSimilarity,
	}
}
