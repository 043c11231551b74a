package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
)

// ModelEntry is one model in the aggregated listing, normalized to the
// OpenAI list shape regardless of source dialect
type ModelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// Models returns the handler aggregating model listings across all
// configured providers. A provider that fails to answer is logged and
// skipped so one flaky upstream does not blank the whole catalog.
//
//	@Summary		List available models
//	@Description	Aggregates model listings from all configured providers
//	@Tags			Proxy
//	@Security		BearerAuth
//	@Produce		json
//	@Success		200	{object}	object{object=string,data=[]proxy.ModelEntry}
//	@Router			/v1/models [get]
func (p *Proxy) Models() gin.HandlerFunc {
	return func(c *gin.Context) {
		data := make([]ModelEntry, 0)
		for name, provider := range p.providers {
			entries, err := provider.listModels(c.Request.Context())
			if err != nil {
				log.Printf("proxy: listing %s models failed: %v", name, err)
				continue
			}
			data = append(data, entries...)
		}

		sort.Slice(data, func(i, j int) bool { return data[i].ID < data[j].ID })

		c.JSON(http.StatusOK, gin.H{
			"object": "list",
			"data":   data,
		})
	}
}

// listModels fetches the provider's model catalog with retry. Both dialects
// answer {"data":[{"id":...},...]}, so one decode shape covers them.
func (pr *Provider) listModels(ctx context.Context) ([]ModelEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pr.BaseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("build models request: %w", err)
	}
	for k, v := range pr.headers {
		req.Header.Set(k, v)
	}

	resp, err := pr.retry.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("models endpoint returned %d: %s", resp.StatusCode, body)
	}

	var listing struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("decode models response: %w", err)
	}

	entries := make([]ModelEntry, 0, len(listing.Data))
	for _, m := range listing.Data {
		entries = append(entries, ModelEntry{
			ID:      m.ID,
			Object:  "model",
			OwnedBy: pr.Name,
		})
	}
	return entries, nil
}
