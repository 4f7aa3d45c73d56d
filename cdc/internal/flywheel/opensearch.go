package flywheel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchutil"
)

// LoaderConfig holds OpenSearch connection settings.
type LoaderConfig struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	IndexPrefix   string
}

// Loader bulk-indexes workload logs into monthly OpenSearch indices.
type Loader struct {
	client *opensearch.Client
	reader *Reader
	cfg    LoaderConfig
	logger *slog.Logger
}

// LoadResult reports a bulk load.
type LoadResult struct {
	Indexed int64    `json:"indexed"`
	Failed  int64    `json:"failed"`
	Indices []string `json:"indices"`
	Errors  []string `json:"errors,omitempty"`
}

// NewLoader creates an OpenSearch client for cfg reading logs from reader.
func NewLoader(cfg LoaderConfig, reader *Reader, logger *slog.Logger) (*Loader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = "leadpulse-flywheel"
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: cfg.TLSSkipVerify,
			},
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: httpClient.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	return &Loader{client: client, reader: reader, cfg: cfg, logger: logger}, nil
}

// IndexName returns the monthly index for a workload record timestamp,
// e.g. leadpulse-flywheel-lead-route-2025-01.
func (l *Loader) IndexName(workload string, ts int64) string {
	month := time.Unix(ts, 0).UTC().Format("2006-01")
	safe := strings.NewReplacer(".", "-", "/", "-", " ", "-").Replace(strings.ToLower(workload))
	return fmt.Sprintf("%s-%s-%s", l.cfg.IndexPrefix, safe, month)
}

// EnsureTemplate creates or updates the index template for the prefix.
func (l *Loader) EnsureTemplate(ctx context.Context) error {
	template := map[string]any{
		"index_patterns": []string{l.cfg.IndexPrefix + "-*"},
		"template": map[string]any{
			"settings": map[string]any{
				"number_of_shards":   1,
				"number_of_replicas": 0,
			},
			"mappings": map[string]any{
				"properties": map[string]any{
					"timestamp":      map[string]any{"type": "date", "format": "epoch_second"},
					"id":             map[string]any{"type": "keyword"},
					"client_id":      map[string]any{"type": "keyword"},
					"workload_id":    map[string]any{"type": "keyword"},
					"lead_id":        map[string]any{"type": "keyword"},
					"user_id":        map[string]any{"type": "keyword"},
					"policy_version": map[string]any{"type": "keyword"},
					"replay_id":      map[string]any{"type": "keyword"},
					"outcome":        map[string]any{"type": "keyword"},
					"latency_ms":     map[string]any{"type": "float"},
					"request":        map[string]any{"type": "object", "enabled": false},
					"response":       map[string]any{"type": "object", "enabled": false},
				},
			},
		},
		"priority": 100,
	}

	body, err := json.Marshal(template)
	if err != nil {
		return err
	}

	res, err := l.client.Indices.PutIndexTemplate(
		l.cfg.IndexPrefix+"-template",
		bytes.NewReader(body),
		l.client.Indices.PutIndexTemplate.WithContext(ctx),
	)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to create index template: %s - %s", res.Status(), string(bodyBytes))
	}
	return nil
}

// Load indexes every record of workload, using the record id as document
// id so reloading the same log is idempotent.
func (l *Loader) Load(ctx context.Context, workload string) (*LoadResult, error) {
	records, err := l.reader.Read(workload, 0)
	if err != nil {
		return nil, err
	}

	result := &LoadResult{}
	if len(records) == 0 {
		return result, nil
	}

	var (
		indexed, failed atomic.Int64
		mu              sync.Mutex
		indices         = map[string]struct{}{}
	)
	addError := func(msg string) {
		mu.Lock()
		result.Errors = append(result.Errors, msg)
		mu.Unlock()
	}

	bi, err := opensearchutil.NewBulkIndexer(opensearchutil.BulkIndexerConfig{
		Client:     l.client,
		NumWorkers: 1,
		OnError: func(ctx context.Context, err error) {
			addError(err.Error())
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bulk indexer: %w", err)
	}

	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			failed.Add(1)
			addError(fmt.Sprintf("failed to marshal record %s: %v", rec.ID, err))
			continue
		}
		index := l.IndexName(workload, rec.Timestamp)
		indices[index] = struct{}{}

		err = bi.Add(ctx, opensearchutil.BulkIndexerItem{
			Action:     "index",
			Index:      index,
			DocumentID: rec.ID,
			Body:       bytes.NewReader(data),
			OnSuccess: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem) {
				indexed.Add(1)
			},
			OnFailure: func(ctx context.Context, item opensearchutil.BulkIndexerItem, res opensearchutil.BulkIndexerResponseItem, err error) {
				failed.Add(1)
				if err != nil {
					addError(err.Error())
				} else {
					addError(fmt.Sprintf("%s: %s", res.Error.Type, res.Error.Reason))
				}
			},
		})
		if err != nil {
			failed.Add(1)
			addError(fmt.Sprintf("failed to add to bulk indexer: %v", err))
		}
	}

	if err := bi.Close(ctx); err != nil {
		addError(fmt.Sprintf("bulk indexer close error: %v", err))
	}

	result.Indexed = indexed.Load()
	result.Failed = failed.Load()
	for idx := range indices {
		result.Indices = append(result.Indices, idx)
	}
	sort.Strings(result.Indices)

	l.logger.Info("Flywheel log loaded",
		slog.String("workload", workload),
		slog.Int64("indexed", result.Indexed),
		slog.Int64("failed", result.Failed))
	return result, nil
}
