package commerce

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storelink/catalog-console/internal/httpclient"
	"github.com/storelink/catalog-console/internal/sync"
)

// MDM endpoint paths.
const (
	pathSyncPrices  = "/mdm/sync/prices"
	pathSyncStocks  = "/mdm/sync/stocks"
	pathStockDirty  = "/mdm/stocks/dirty"
	pathSources     = "/mdm/sources"
	pathStockCommit = "/mdm/sync/stocks/commit"
)

// MDMClient implements the orchestrator's MDM operations over the resource
// client. Write operations invalidate the cached read paths they touch.
type MDMClient struct {
	client httpclient.Client
}

// NewMDMClient wraps a resource client pointed at the MDM base URL.
func NewMDMClient(client httpclient.Client) *MDMClient {
	return &MDMClient{client: client}
}

// SyncPrices posts the price items as one bulk operation.
func (m *MDMClient) SyncPrices(ctx context.Context, items []sync.PriceItem, operationID string) (*sync.PriceSyncResponse, error) {
	body := struct {
		OperationID string           `json:"operationId"`
		Items       []sync.PriceItem `json:"items"`
	}{
		OperationID: operationID,
		Items:       items,
	}

	data, err := m.client.Post(ctx, pathSyncPrices, body)
	if err != nil {
		return nil, err
	}

	var resp sync.PriceSyncResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode price sync response: %w", err)
	}

	m.client.Invalidate("/rest/V1/products")
	return &resp, nil
}

// MarkStocksDirty flags the MDM's stock records for synchronization.
func (m *MDMClient) MarkStocksDirty(ctx context.Context) error {
	_, err := m.client.Post(ctx, pathStockDirty, nil)
	return err
}

// FetchSources returns the configured inventory sources.
func (m *MDMClient) FetchSources(ctx context.Context) ([]sync.Source, error) {
	data, err := m.client.Get(ctx, pathSources, nil)
	if err != nil {
		return nil, err
	}

	env, err := httpclient.NormalizeEnvelope(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode sources response: %w", err)
	}

	sources := make([]sync.Source, 0, len(env.Items))
	for _, item := range env.Items {
		code, _ := item["code_source"].(string)
		if code == "" {
			continue
		}
		name, _ := item["name"].(string)
		sources = append(sources, sync.Source{Code: code, Name: name})
	}
	return sources, nil
}

// PushSourceStock pushes one source's inventory to the commerce API.
func (m *MDMClient) PushSourceStock(ctx context.Context, sourceCode string) error {
	body := struct {
		Sources []string `json:"sources"`
	}{
		Sources: []string{sourceCode},
	}
	_, err := m.client.Post(ctx, pathSyncStocks, body)
	return err
}

// CommitStockSync marks the pushed sources as synced.
func (m *MDMClient) CommitStockSync(ctx context.Context, sourceCodes []string) error {
	body := struct {
		Sources []string `json:"sources"`
	}{
		Sources: sourceCodes,
	}
	if _, err := m.client.Post(ctx, pathStockCommit, body); err != nil {
		return err
	}
	m.client.Invalidate(pathSources)
	return nil
}

// verify interface compliance
var _ sync.MDM = (*MDMClient)(nil)
