package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	keyURLPath         = "/v1/keyurl"
	inputProofPath     = "/v1/input-proof"
	userDecryptPath    = "/v1/user-decrypt"
	maxResponseBytes   = 1 << 20
	maxKeyMaterialSize = 256 << 20
)

// Client talks to the relayer HTTP API.
type Client struct {
	BaseURL        string
	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// KeyRef names one piece of key material and its mirrors.
type KeyRef struct {
	DataID string   `json:"data_id"`
	URLs   []string `json:"urls"`
}

type keyURLResponse struct {
	Response struct {
		FHEKeyInfo []struct {
			FHEPublicKey KeyRef `json:"fhe_public_key"`
		} `json:"fhe_key_info"`
		CRS map[string]KeyRef `json:"crs"`
	} `json:"response"`
}

// KeyURLs lists where the network's public key and public params live.
type KeyURLs struct {
	PublicKey    KeyRef
	PublicParams map[int]KeyRef
}

type InputProofRequest struct {
	ContractAddress string `json:"contractAddress"`
	UserAddress     string `json:"userAddress"`
	Ciphertext      string `json:"ciphertextWithInputVerification"`
	ContractChainID string `json:"contractChainId"`
	ExtraData       string `json:"extraData"`
}

type InputProofResponse struct {
	Handles    []string `json:"handles"`
	Signatures []string `json:"signatures"`
}

type HandleContractPair struct {
	Handle          string `json:"handle"`
	ContractAddress string `json:"contractAddress"`
}

type RequestValidity struct {
	StartTimestamp string `json:"startTimestamp"`
	DurationDays   string `json:"durationDays"`
}

type UserDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	RequestValidity     RequestValidity      `json:"requestValidity"`
	ContractsChainID    string               `json:"contractsChainId"`
	ContractAddresses   []string             `json:"contractAddresses"`
	UserAddress         string               `json:"userAddress"`
	Signature           string               `json:"signature"`
	PublicKey           string               `json:"publicKey"`
	ExtraData           string               `json:"extraData"`
}

// DecryptionShare is one KMS node's encrypted answer.
type DecryptionShare struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

func (c Client) KeyURLs(ctx context.Context) (KeyURLs, error) {
	var payload keyURLResponse
	if err := c.do(ctx, http.MethodGet, keyURLPath, nil, &payload); err != nil {
		return KeyURLs{}, err
	}
	if len(payload.Response.FHEKeyInfo) == 0 {
		return KeyURLs{}, errors.New("key url response has no public key")
	}

	urls := KeyURLs{
		PublicKey:    payload.Response.FHEKeyInfo[0].FHEPublicKey,
		PublicParams: make(map[int]KeyRef, len(payload.Response.CRS)),
	}
	for bits, ref := range payload.Response.CRS {
		size, err := strconv.Atoi(bits)
		if err != nil {
			return KeyURLs{}, fmt.Errorf("key url response: invalid crs size %q", bits)
		}
		urls.PublicParams[size] = ref
	}
	return urls, nil
}

func (c Client) InputProof(ctx context.Context, req InputProofRequest) (InputProofResponse, error) {
	var payload struct {
		Response InputProofResponse `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, inputProofPath, req, &payload); err != nil {
		return InputProofResponse{}, err
	}
	return payload.Response, nil
}

func (c Client) UserDecrypt(ctx context.Context, req UserDecryptRequest) ([]DecryptionShare, error) {
	var payload struct {
		Response []DecryptionShare `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, userDecryptPath, req, &payload); err != nil {
		return nil, err
	}
	return payload.Response, nil
}

// Download fetches key material from the first reachable URL of ref.
func (c Client) Download(ctx context.Context, ref KeyRef) ([]byte, error) {
	if len(ref.URLs) == 0 {
		return nil, fmt.Errorf("key %s has no download url", ref.DataID)
	}

	var errs []error
	for _, rawURL := range ref.URLs {
		data, err := c.download(ctx, rawURL)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("download key %s: %w", ref.DataID, errors.Join(errs...))
}

func (c Client) download(ctx context.Context, rawURL string) ([]byte, error) {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("download %s: status %d", rawURL, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxKeyMaterialSize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return data, nil
}

func (c Client) do(ctx context.Context, method string, path string, body any, out any) error {
	endpoint, err := buildAPIURL(c.BaseURL, path)
	if err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("request %s: %s", path, decodeRelayerError(resp))
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeRelayerError(resp *http.Response) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
	switch {
	case payload.Message != "":
		return fmt.Sprintf("status %d: %s", resp.StatusCode, payload.Message)
	case payload.Error != "":
		return fmt.Sprintf("status %d: %s", resp.StatusCode, payload.Error)
	default:
		return fmt.Sprintf("status %d", resp.StatusCode)
	}
}

func (c Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c Client) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}

	timeout := c.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func buildAPIURL(baseURL string, path string) (string, error) {
	if baseURL == "" {
		return "", errors.New("relayer base url is required")
	}
	if path == "" {
		return "", errors.New("relayer path is required")
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse relayer base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.New("relayer base url must use http or https")
	}
	if parsed.Host == "" {
		return "", errors.New("relayer base url host is required")
	}

	endpoint, err := parsed.Parse(path)
	if err != nil {
		return "", fmt.Errorf("parse relayer path: %w", err)
	}
	return endpoint.String(), nil
}
