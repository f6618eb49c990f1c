// Package searchindex wraps Elasticsearch as the Search Index
// described in SPEC_FULL.md §4.E: one document per message, substring
// search via wildcard queries scoped to a chat.
package searchindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// IndexName is the single index this service owns.
const IndexName = "chat_messages"

// Document is the indexed representation of a message.
type Document struct {
	ChatID    int64     `json:"chat_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is a single search result, carrying enough to resolve back to a
// message's (chat_number, number, body) at the HTTP layer.
type Hit struct {
	MessageID int64
	Body      string
}

// Index wraps an Elasticsearch client with the narrow set of
// operations the ingest service needs: point index/delete, bulk
// import, count, and scoped wildcard search.
type Index struct {
	es *elasticsearch.Client
}

// New builds a client against the given Elasticsearch base URL.
func New(url string) (*Index, error) {
	cfg := elasticsearch.Config{Addresses: []string{url}}
	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("searchindex: new client: %w", err)
	}
	return &Index{es: es}, nil
}

// Ping verifies connectivity to the Elasticsearch cluster, used by the
// /health endpoint.
func (i *Index) Ping(ctx context.Context) error {
	res, err := i.es.Ping(i.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("searchindex: ping: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("searchindex: ping: %s", res.String())
	}
	return nil
}

// EnsureIndex creates the index if it does not already exist.
func (i *Index) EnsureIndex(ctx context.Context) error {
	exists, err := esapi.IndicesExistsRequest{Index: []string{IndexName}}.Do(ctx, i.es)
	if err != nil {
		return fmt.Errorf("searchindex: check index: %w", err)
	}
	defer exists.Body.Close()
	if exists.StatusCode == 200 {
		return nil
	}

	mapping := `{
		"mappings": {
			"properties": {
				"chat_id":    {"type": "keyword"},
				"body":       {"type": "text"},
				"created_at": {"type": "date"}
			}
		}
	}`
	res, err := esapi.IndicesCreateRequest{
		Index: IndexName,
		Body:  strings.NewReader(mapping),
	}.Do(ctx, i.es)
	if err != nil {
		return fmt.Errorf("searchindex: create index: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("searchindex: create index: %s", res.String())
	}
	return nil
}

// IndexMessage upserts a single document keyed by the message's
// internal ID — re-indexing the same message is idempotent, which is
// what lets IndexMessage jobs run out of order safely.
func (i *Index) IndexMessage(ctx context.Context, messageID int64, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("searchindex: marshal doc: %w", err)
	}

	res, err := esapi.IndexRequest{
		Index:      IndexName,
		DocumentID: strconv.FormatInt(messageID, 10),
		Body:       bytes.NewReader(body),
		Refresh:    "false",
	}.Do(ctx, i.es)
	if err != nil {
		return fmt.Errorf("searchindex: index %d: %w", messageID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("searchindex: index %d: %s", messageID, res.String())
	}
	return nil
}

// DeleteMessage removes a document by message ID. Not currently
// reachable from any SPEC_FULL.md operation (messages are immutable
// and never deleted) but kept as the natural counterpart to
// IndexMessage; nothing in this repository calls it.
func (i *Index) DeleteMessage(ctx context.Context, messageID int64) error {
	res, err := esapi.DeleteRequest{
		Index:      IndexName,
		DocumentID: strconv.FormatInt(messageID, 10),
	}.Do(ctx, i.es)
	if err != nil {
		return fmt.Errorf("searchindex: delete %d: %w", messageID, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 404 {
		return fmt.Errorf("searchindex: delete %d: %s", messageID, res.String())
	}
	return nil
}

// BulkImport indexes many documents in one request, used by
// ReindexAll. Each entry overwrites any prior document for that
// message ID, giving the "force = true" overwrite semantics
// SPEC_FULL.md §4.C requires.
func (i *Index) BulkImport(ctx context.Context, entries map[int64]Document) error {
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for id, doc := range entries {
		meta := map[string]any{"index": map[string]any{"_index": IndexName, "_id": strconv.FormatInt(id, 10)}}
		metaLine, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("searchindex: marshal bulk meta: %w", err)
		}
		docLine, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("searchindex: marshal bulk doc: %w", err)
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	res, err := esapi.BulkRequest{Body: bytes.NewReader(buf.Bytes())}.Do(ctx, i.es)
	if err != nil {
		return fmt.Errorf("searchindex: bulk: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("searchindex: bulk: %s", res.String())
	}
	return nil
}

// Count returns the total number of indexed documents, used by the
// index reconciler to detect drift against the Durable Log Store.
func (i *Index) Count(ctx context.Context) (int64, error) {
	res, err := esapi.CountRequest{Index: []string{IndexName}}.Do(ctx, i.es)
	if err != nil {
		return 0, fmt.Errorf("searchindex: count: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		if res.StatusCode == 404 {
			return 0, nil
		}
		return 0, fmt.Errorf("searchindex: count: %s", res.String())
	}

	var parsed struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("searchindex: decode count: %w", err)
	}
	return parsed.Count, nil
}

// Search performs a case-insensitive substring search over body,
// scoped to one chat. The query is lowercased and any wildcard
// metacharacters in it are escaped before being wrapped in a
// leading/trailing `*`, so user input can never inject its own
// wildcard semantics.
func (i *Index) Search(ctx context.Context, chatID int64, query string) ([]Hit, error) {
	escaped := escapeWildcard(strings.ToLower(query))
	pattern := "*" + escaped + "*"

	reqBody := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"chat_id": strconv.FormatInt(chatID, 10)}},
				},
				"must": []map[string]any{
					{"wildcard": map[string]any{"body": map[string]any{"value": pattern, "case_insensitive": true}}},
				},
			},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("searchindex: marshal search: %w", err)
	}

	res, err := esapi.SearchRequest{
		Index: []string{IndexName},
		Body:  bytes.NewReader(body),
	}.Do(ctx, i.es)
	if err != nil {
		return nil, fmt.Errorf("searchindex: search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		if res.StatusCode == 404 {
			return nil, nil
		}
		return nil, fmt.Errorf("searchindex: search: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string   `json:"_id"`
				Source Document `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("searchindex: decode search: %w", err)
	}

	out := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		id, err := strconv.ParseInt(h.ID, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, Hit{MessageID: id, Body: h.Source.Body})
	}
	return out, nil
}

// escapeWildcard escapes Elasticsearch wildcard query metacharacters
// (* and ?) and the escape character itself, so a literal query never
// turns into a pattern.
func escapeWildcard(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)
	return replacer.Replace(s)
}
