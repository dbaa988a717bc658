package recipients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const maxBackendBody = 4 << 20

// HTTPProvider pages through a JSON identity backend:
//
//	GET <base><path>?org_id=<org>&limit=<n>[&cursor=<c>]
//	-> {"recipients":[{"id":"...","enabled":true}],"next_cursor":"..."|null}
type HTTPProvider struct {
	name    string
	baseURL string
	path    string
	headers http.Header
	query   url.Values
	client  *http.Client
}

type pageResponse struct {
	Recipients []Recipient `json:"recipients"`
	NextCursor *string     `json:"next_cursor"`
}

// NewRBACProvider authenticates with the RBAC pre-shared key.
func NewRBACProvider(baseURL, psk string, client *http.Client) *HTTPProvider {
	h := http.Header{}
	if psk != "" {
		h.Set("X-RH-RBAC-PSK", psk)
		h.Set("X-RH-RBAC-Client-Id", "notifications")
	}
	return newHTTPProvider("rbac", baseURL, "/api/rbac/v1/principals/", h, nil, client)
}

// NewMBOPProvider authenticates with an MBOP API token and client id.
func NewMBOPProvider(baseURL, apiToken, clientID, env string, client *http.Client) *HTTPProvider {
	h := http.Header{}
	h.Set("X-RH-Apitoken", apiToken)
	if clientID != "" {
		h.Set("X-RH-Clientid", clientID)
	}
	q := url.Values{}
	if env != "" {
		q.Set("env", env)
	}
	return newHTTPProvider("mbop", baseURL, "/v1/users", h, q, client)
}

// NewKesselProvider talks to the Kessel relations API. target may omit the
// scheme, in which case secure selects https over plain http.
func NewKesselProvider(target string, secure bool, client *http.Client) *HTTPProvider {
	return newHTTPProvider("kessel", kesselBaseURL(target, secure), "/api/authz/v1beta1/subjects", http.Header{}, nil, client)
}

func kesselBaseURL(target string, secure bool) string {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return target
	}
	if secure {
		return "https://" + target
	}
	return "http://" + target
}

func newHTTPProvider(name, baseURL, path string, headers http.Header, query url.Values, client *http.Client) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		path:    path,
		headers: headers,
		query:   query,
		client:  client,
	}
}

func (p *HTTPProvider) Name() string { return p.name }

func (p *HTTPProvider) BaseURL() string { return p.baseURL }

func (p *HTTPProvider) FetchPage(ctx context.Context, req PageRequest) (Page, error) {
	q := url.Values{}
	for k, v := range p.query {
		q[k] = v
	}
	q.Set("org_id", req.OrgID)
	q.Set("limit", strconv.Itoa(req.PageSize))
	if req.Cursor != "" {
		q.Set("cursor", req.Cursor)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+p.path+"?"+q.Encode(), nil)
	if err != nil {
		return Page{}, &ResolutionError{Cause: Malformed, Provider: p.name, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range p.headers {
		httpReq.Header[k] = v
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return Page{}, &ResolutionError{Cause: transportCause(err), Provider: p.name, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Page{}, &ResolutionError{
			Cause:      statusCause(resp.StatusCode),
			Provider:   p.name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("backend responded %q", strings.TrimSpace(string(body))),
		}
	}

	var pr pageResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBackendBody)).Decode(&pr); err != nil {
		return Page{}, &ResolutionError{Cause: Malformed, Provider: p.name, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode page: %w", err)}
	}
	for i, r := range pr.Recipients {
		if r.ID == "" {
			return Page{}, &ResolutionError{Cause: Malformed, Provider: p.name, StatusCode: resp.StatusCode, Err: fmt.Errorf("recipient %d has no id", i)}
		}
	}

	page := Page{Recipients: pr.Recipients}
	if pr.NextCursor != nil {
		page.NextCursor = *pr.NextCursor
	}
	return page, nil
}
