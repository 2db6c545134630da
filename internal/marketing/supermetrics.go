package marketing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tablechat/tablechat/internal/warehouse"
)

const (
	DefaultBaseURL = "https://api.supermetrics.com/enterprise/v2/query/data/json"

	// Connector ids of the Supermetrics product API.
	DataSourceInstagram     = "IGI"
	DataSourceFacebookPages = "FBI"

	defaultMaxRows = 10000
	defaultTimeout = 60 * time.Second
)

// APIError carries the connector's own failure detail: either a non-200
// response or a 200 with an error status envelope.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("supermetrics: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("supermetrics: %s", e.Message)
}

type Config struct {
	BaseURL    string
	APIKey     string
	DataSource string
	User       string
	Accounts   []string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Query describes one data pull. Either a named range (DateRangeType,
// e.g. "last_30_days") or explicit DateFrom/DateTo bounds; the named
// range wins when both are set.
type Query struct {
	Fields          []string
	DateFrom        string
	DateTo          string
	DateRangeType   string
	TimeGranularity string
	Filters         map[string]any
	MaxRows         int
}

// Client calls the Supermetrics product API. The key travels in both
// supported forms at once: the api_key query parameter and the
// Authorization bearer header.
type Client struct {
	baseURL    string
	apiKey     string
	dataSource string
	user       string
	accounts   []string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.Trim(strings.TrimSpace(cfg.APIKey), `"'`)
	if apiKey == "" {
		return nil, fmt.Errorf("supermetrics api key is required")
	}
	if strings.TrimSpace(cfg.DataSource) == "" {
		return nil, fmt.Errorf("supermetrics data source id is required")
	}
	if strings.TrimSpace(cfg.User) == "" {
		return nil, fmt.Errorf("supermetrics user is required")
	}
	accounts := make([]string, 0, len(cfg.Accounts))
	for _, account := range cfg.Accounts {
		if trimmed := strings.TrimSpace(account); trimmed != "" {
			accounts = append(accounts, trimmed)
		}
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("supermetrics accounts are required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		dataSource: strings.TrimSpace(cfg.DataSource),
		user:       strings.TrimSpace(cfg.User),
		accounts:   accounts,
		httpClient: httpClient,
	}, nil
}

// NewInstagramClient defaults the connector to Instagram Insights.
func NewInstagramClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.DataSource) == "" {
		cfg.DataSource = DataSourceInstagram
	}
	return NewClient(cfg)
}

// NewFacebookPagesClient defaults the connector to Facebook Pages.
// Some licenses use "FPI" instead; set Config.DataSource to override.
func NewFacebookPagesClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.DataSource) == "" {
		cfg.DataSource = DataSourceFacebookPages
	}
	return NewClient(cfg)
}

// Query runs one pull and follows next_page_params until the connector
// stops returning them, concatenating the pages into one result set.
func (c *Client) Query(ctx context.Context, q Query) (warehouse.ResultSet, error) {
	fields := make([]string, 0, len(q.Fields))
	for _, field := range q.Fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}
	if len(fields) == 0 {
		return warehouse.ResultSet{}, fmt.Errorf("query fields are required")
	}
	maxRows := q.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}

	payload := map[string]any{
		"ds_id":       c.dataSource,
		"ds_accounts": strings.Join(c.accounts, ","),
		"ds_user":     c.user,
		"max_rows":    maxRows,
		"fields":      fields,
	}
	if q.DateRangeType != "" {
		payload["date_range_type"] = q.DateRangeType
	} else {
		if q.DateFrom != "" {
			payload["date_from"] = q.DateFrom
		}
		if q.DateTo != "" {
			payload["date_to"] = q.DateTo
		}
	}
	if q.TimeGranularity != "" {
		payload["time_granularity"] = q.TimeGranularity
	}
	if len(q.Filters) > 0 {
		payload["filters"] = q.Filters
	}

	start := time.Now()
	page, err := c.requestPage(ctx, payload)
	if err != nil {
		return warehouse.ResultSet{}, err
	}
	result := pageResult(page)

	for next := nextPageParams(page); len(next) > 0; next = nextPageParams(page) {
		for key, value := range next {
			payload[key] = value
		}
		page, err = c.requestPage(ctx, payload)
		if err != nil {
			return warehouse.ResultSet{}, err
		}
		chunk := pageResult(page)
		if len(result.Columns) == 0 {
			result.Columns = chunk.Columns
		}
		result.Rows = append(result.Rows, chunk.Rows...)
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (c *Client) requestPage(ctx context.Context, payload map[string]any) (map[string]any, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode query payload: %w", err)
	}
	params := url.Values{}
	params.Set("json", string(encoded))
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call supermetrics: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return nil, fmt.Errorf("read supermetrics response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := string(body)
		if len(detail) > 1000 {
			detail = detail[:1000]
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: detail}
	}

	var page map[string]any
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("decode supermetrics response: %w", err)
	}
	if status, _ := page["status"].(string); status == "error" {
		message, _ := page["message"].(string)
		if message == "" {
			message, _ = page["error"].(string)
		}
		if message == "" {
			message = "connector error"
		}
		return nil, &APIError{Message: message}
	}
	return page, nil
}

// pageResult flattens one page. The API answers in two shapes: field
// metadata plus data as a list of lists, or data/rows as a list of
// objects.
func pageResult(page map[string]any) warehouse.ResultSet {
	columns := fieldNames(page)

	data, _ := page["data"].([]any)
	if data == nil {
		data, _ = page["rows"].([]any)
	}
	if len(data) == 0 {
		return warehouse.ResultSet{Columns: columns}
	}

	switch data[0].(type) {
	case []any:
		rows := make([][]any, 0, len(data))
		for _, item := range data {
			if row, ok := item.([]any); ok {
				rows = append(rows, row)
			}
		}
		return warehouse.ResultSet{Columns: columns, Rows: rows}
	case map[string]any:
		if len(columns) == 0 {
			columns = unionKeys(data)
		}
		rows := make([][]any, 0, len(data))
		for _, item := range data {
			object, ok := item.(map[string]any)
			if !ok {
				continue
			}
			row := make([]any, len(columns))
			for i, column := range columns {
				row[i] = object[column]
			}
			rows = append(rows, row)
		}
		return warehouse.ResultSet{Columns: columns, Rows: rows}
	default:
		return warehouse.ResultSet{Columns: columns}
	}
}

func fieldNames(page map[string]any) []string {
	fields, _ := page["fields"].([]any)
	if fields == nil {
		if meta, ok := page["meta"].(map[string]any); ok {
			fields, _ = meta["fields"].([]any)
		}
	}
	names := make([]string, 0, len(fields))
	for _, item := range fields {
		object, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := object["id"].(string)
		if name == "" {
			name, _ = object["name"].(string)
		}
		if name == "" {
			name, _ = object["label"].(string)
		}
		if name == "" {
			name = "col"
		}
		names = append(names, name)
	}
	return names
}

func unionKeys(data []any) []string {
	seen := map[string]struct{}{}
	for _, item := range data {
		object, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for key := range object {
			seen[key] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func nextPageParams(page map[string]any) map[string]any {
	if meta, ok := page["meta"].(map[string]any); ok {
		if params, ok := meta["next_page_params"].(map[string]any); ok && len(params) > 0 {
			return params
		}
	}
	params, _ := page["next_page_params"].(map[string]any)
	return params
}
