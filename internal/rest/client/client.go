// Package client is a REST client for the daemon's control socket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/canonical/lxd/shared"
	"github.com/canonical/lxd/shared/api"
	"github.com/canonical/lxd/shared/logger"

	"github.com/canonical/asyncsql/rest/response"
)

// APIVersion is the path prefix of every endpoint.
const APIVersion = "1.0"

// defaultTimeout applies to requests whose context has no deadline.
const defaultTimeout = 30 * time.Second

// Client is a rest client for the daemon.
type Client struct {
	*http.Client
	url api.URL
}

// New returns a client for the control socket at the given url, whose host is the socket path.
func New(url api.URL) (*Client, error) {
	if !strings.HasSuffix(url.String(), "control.socket") || !path.IsAbs(url.Hostname()) {
		return nil, fmt.Errorf("Invalid control socket address %q", url.String())
	}

	httpClient := unixHTTPClient(shared.HostPath(url.Hostname()))
	url.Host(filepath.Base(url.Hostname()))

	return &Client{
		Client: httpClient,
		url:    url,
	}, nil
}

func unixHTTPClient(path string) *http.Client {
	// Setup a Unix socket dialer
	unixDial := func(ctx context.Context, network string, addr string) (net.Conn, error) {
		raddr, err := net.ResolveUnixAddr("unix", path)
		if err != nil {
			return nil, err
		}

		var d net.Dialer
		return d.DialContext(ctx, "unix", raddr.String())
	}

	transport := &http.Transport{
		DialContext:       unixDial,
		DisableKeepAlives: true,
	}

	client := &http.Client{Transport: transport}

	// Setup redirect policy
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		// Replicate the headers
		req.Header = via[len(via)-1].Header

		return nil
	}

	return client
}

func (c *Client) rawQuery(ctx context.Context, method string, url *api.URL, data any) (*http.Response, error) {
	var req *http.Request
	var err error

	// Assign a context timeout if we don't already have one.
	_, ok := ctx.Deadline()
	if !ok {
		timeoutCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
		ctx = timeoutCtx
		defer cancel()
	}

	if data != nil {
		switch data := data.(type) {
		case io.Reader:
			req, err = http.NewRequestWithContext(ctx, method, url.String(), data)
			if err != nil {
				return nil, err
			}

			req.Header.Set("Content-Type", "application/octet-stream")
		default:
			buf := bytes.Buffer{}
			err := json.NewEncoder(&buf).Encode(data)
			if err != nil {
				return nil, err
			}

			// Use a reader since the request body needs to be seekable
			req, err = http.NewRequestWithContext(ctx, method, url.String(), bytes.NewReader(buf.Bytes()))
			if err != nil {
				return nil, err
			}

			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, method, url.String(), nil)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) mergeURL(endpoint *api.URL) *api.URL {
	localURL := api.NewURL()
	if endpoint != nil {
		// Get a new local struct to avoid modifying the provided one.
		newURL := *endpoint
		localURL = &newURL
	}

	localURL.URL.Host = c.url.URL.Host
	localURL.URL.Scheme = c.url.URL.Scheme
	localURL.URL.Path = filepath.Join("/", APIVersion, localURL.URL.Path)
	if localURL.URL.RawPath != "" {
		localURL.URL.RawPath = filepath.Join("/", APIVersion, localURL.URL.RawPath)
	}

	localQuery := localURL.URL.Query()
	clientQuery := c.url.URL.Query()
	for k := range localQuery {
		clientQuery.Set(k, localQuery.Get(k))
	}

	localURL.URL.RawQuery = clientQuery.Encode()

	return localURL
}

// QueryStruct sends a request of the specified method to the provided endpoint (optional) and
// unpacks the response metadata into target, if not nil.
func (c *Client) QueryStruct(ctx context.Context, method string, endpoint *api.URL, data any, target any) error {
	resp, err := c.QueryStructRaw(ctx, method, endpoint, data)
	if err != nil {
		return err
	}

	parsed, err := response.ParseResponse(resp)
	if err != nil {
		return err
	}

	if target == nil {
		return nil
	}

	err = parsed.MetadataAsStruct(target)
	if err != nil {
		return fmt.Errorf("Failed to parse response metadata: %w", err)
	}

	return nil
}

// QueryStructRaw sends a request of the specified method to the provided endpoint (optional).
// The raw response is returned.
func (c *Client) QueryStructRaw(ctx context.Context, method string, endpoint *api.URL, data any) (*http.Response, error) {
	localURL := c.mergeURL(endpoint)

	resp, err := c.rawQuery(ctx, method, localURL, data)
	if err != nil {
		return nil, err
	}

	logger.Debug("Got raw response struct from asyncsql daemon", logger.Ctx{"endpoint": localURL.String(), "method": method, "status": resp.StatusCode})

	return resp, nil
}

// URL returns the address used for the client.
func (c *Client) URL() api.URL {
	return c.url
}
