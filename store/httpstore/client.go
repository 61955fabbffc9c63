// Package httpstore talks to canisters through an HTTP/JSON call gateway.
// Every canister method is a POST to <base>/<canister id>/<method> with a JSON body;
// byte fields travel base64 encoded.
package httpstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/ic-communities/deployutils/batch"
)

// IdentityHeader carries the name of the identity the gateway signs calls with.
const IdentityHeader = "X-Canister-Identity"

// ErrRejected is returned when the canister answers a call with an Err result.
var ErrRejected = errors.New("call rejected by canister")

// Params ...
type Params struct {
	BaseURL    string
	CanisterID string
	Token      string
	Identity   string
}

// Client is a canister call client. It's safe for concurrent use.
type Client struct {
	httpClient *retryablehttp.Client
	// noRetry sends calls that must not be repeated by the transport.
	noRetry    *retryablehttp.Client
	baseURL    string
	canisterID string
	token      string
	identity   string
	logger     log.Logger
}

var (
	_ batch.Store         = (*Client)(nil)
	_ batch.MetadataStore = (*Client)(nil)
	_ batch.BatchExecutor = (*Client)(nil)
	_ batch.AssetCanister = (*Client)(nil)
)

// New creates a Client with the default retrying transport.
func New(params Params, logger log.Logger) (*Client, error) {
	return NewWithHTTPClient(params, retryhttp.NewClient(logger), logger)
}

// NewWithHTTPClient creates a Client that sends calls with the given client.
func NewWithHTTPClient(params Params, client *retryablehttp.Client, logger log.Logger) (*Client, error) {
	if params.BaseURL == "" {
		return nil, &batch.ConfigurationError{Field: "BaseURL", Reason: "must not be empty"}
	}
	if params.CanisterID == "" {
		return nil, &batch.ConfigurationError{Field: "CanisterID", Reason: "must not be empty"}
	}

	noRetry := retryhttp.NewClient(logger)
	noRetry.HTTPClient = client.HTTPClient
	noRetry.RetryMax = 0

	return &Client{
		httpClient: client,
		noRetry:    noRetry,
		baseURL:    strings.TrimSuffix(params.BaseURL, "/"),
		canisterID: params.CanisterID,
		token:      params.Token,
		identity:   params.Identity,
		logger:     logger,
	}, nil
}

// CanisterID returns the id of the canister the client calls.
func (c *Client) CanisterID() string {
	return c.canisterID
}

type storeBatchRequest struct {
	Key     string `json:"key"`
	Content []byte `json:"content"`
}

type keyRequest struct {
	Key string `json:"key"`
}

type appendChunkRequest struct {
	Key   string `json:"key"`
	Chunk []byte `json:"chunk"`
}

type executeBatchRequest struct {
	Operations []batch.Operation `json:"operations"`
}

type createAssetBatchResponse struct {
	BatchID batch.BatchID `json:"batch_id"`
}

type createChunkRequest struct {
	BatchID batch.BatchID `json:"batch_id"`
	Content []byte        `json:"content"`
}

type createChunkResponse struct {
	ChunkID batch.ChunkID `json:"chunk_id"`
}

type commitAssetBatchRequest struct {
	BatchID    batch.BatchID     `json:"batch_id"`
	Operations []batch.Operation `json:"operations"`
}

// StoreBatch ...
func (c *Client) StoreBatch(ctx context.Context, key string, content []byte) error {
	return c.call(ctx, c.httpClient, "store_batch", storeBatchRequest{Key: key, Content: content}, nil)
}

// CreateBatch ...
func (c *Client) CreateBatch(ctx context.Context, key string) error {
	return c.call(ctx, c.httpClient, "create_batch", keyRequest{Key: key}, nil)
}

// AppendChunk is sent without transport retries: a request that timed out may still have
// been applied, and a repeated append would corrupt the asset.
func (c *Client) AppendChunk(ctx context.Context, key string, chunk []byte) error {
	return c.call(ctx, c.noRetry, "append_chunk", appendChunkRequest{Key: key, Chunk: chunk}, nil)
}

// CommitBatch ...
func (c *Client) CommitBatch(ctx context.Context, key string) error {
	return c.call(ctx, c.httpClient, "commit_batch", keyRequest{Key: key}, nil)
}

// Store ...
func (c *Client) Store(ctx context.Context, args batch.StoreArgs) error {
	return c.call(ctx, c.httpClient, "store", args, nil)
}

// ExecuteBatch ...
func (c *Client) ExecuteBatch(ctx context.Context, operations []batch.Operation) error {
	return c.call(ctx, c.httpClient, "execute_batch", executeBatchRequest{Operations: operations}, nil)
}

// CreateAssetBatch opens a batch on a certified asset canister.
func (c *Client) CreateAssetBatch(ctx context.Context) (batch.BatchID, error) {
	var resp createAssetBatchResponse
	if err := c.call(ctx, c.httpClient, "create_batch", struct{}{}, &resp); err != nil {
		return 0, err
	}
	return resp.BatchID, nil
}

// CreateChunk is sent without transport retries, see AppendChunk.
func (c *Client) CreateChunk(ctx context.Context, batchID batch.BatchID, content []byte) (batch.ChunkID, error) {
	var resp createChunkResponse
	if err := c.call(ctx, c.noRetry, "create_chunk", createChunkRequest{BatchID: batchID, Content: content}, &resp); err != nil {
		return 0, err
	}
	return resp.ChunkID, nil
}

// CommitAssetBatch ...
func (c *Client) CommitAssetBatch(ctx context.Context, batchID batch.BatchID, operations []batch.Operation) error {
	return c.call(ctx, c.httpClient, "commit_batch", commitAssetBatchRequest{BatchID: batchID, Operations: operations}, nil)
}

func (c *Client) call(ctx context.Context, client *retryablehttp.Client, method string, request, response interface{}) error {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, c.canisterID, method)

	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	if c.identity != "" {
		req.Header.Set(IdentityHeader, c.identity)
	}
	req.Header.Set("Content-type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		dump, err := httputil.DumpResponse(resp, false)
		if err != nil {
			c.logger.Warnf("error while dumping response: %s", err)
		}
		c.logger.Debugf("%s response dump: %s", method, string(dump))
		return unwrapError(resp)
	}

	return decodeResult(method, resp.Body, response)
}

// result is the canister's Result variant; calls without a return value may answer with an empty body.
type result struct {
	Ok  json.RawMessage `json:"Ok,omitempty"`
	Err *string         `json:"Err,omitempty"`
}

func decodeResult(method string, body io.Reader, response interface{}) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var r result
	if err := json.Unmarshal(data, &r); err == nil {
		if r.Err != nil {
			return fmt.Errorf("%s: %w: %s", method, ErrRejected, *r.Err)
		}
		if len(r.Ok) > 0 {
			data = r.Ok
		}
	}

	if response == nil {
		return nil
	}
	if err := json.Unmarshal(data, response); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func unwrapError(resp *http.Response) error {
	errorResp, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorResp)
}
