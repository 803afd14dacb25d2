// Package comm provides HTTP plumbing for the REST clients in ops. It knows
// how to make JSON, XML, SOAP and form-encoded calls, decompress responses,
// and attach the client telemetry headers every request carries.
package comm

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/veralis-id/veralis-go/errors"
	"github.com/veralis-id/veralis-go/internal/json"
	"github.com/veralis-id/veralis-go/internal/version"
)

// HTTPClient is the minimal transport interface. *http.Client implements it;
// tests substitute a scripted double.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
	CloseIdleConnections()
}

// Client provides JSON, XML, SOAP and form-encoded calls over an injected
// transport.
type Client struct {
	client HTTPClient
}

// New is the constructor for Client. httpClient must not be nil.
func New(httpClient HTTPClient) *Client {
	if httpClient == nil {
		panic("comm.New(): httpClient cannot be nil")
	}
	return &Client{client: httpClient}
}

// NewWithCert returns a Client whose transport presents cert on every TLS
// handshake. Used for mTLS proof-of-possession token requests.
func NewWithCert(cert *x509.Certificate, key interface{}) *Client {
	tlsCert := tls.Certificate{Certificate: [][]byte{cert.Raw}, PrivateKey: key}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{tlsCert}}
	return &Client{client: &http.Client{Transport: transport}}
}

// testID is set during tests to make request IDs deterministic.
var testID string

// JSONCall makes an HTTP call to endpoint with the given values and decodes
// the JSON response body into resp, which must be a pointer to a struct.
// If body is non-nil the call is a POST with a JSON-encoded body, otherwise
// a GET.
func (c *Client) JSONCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, body, resp interface{}) error {
	if qv == nil {
		qv = url.Values{}
	}

	v := reflect.ValueOf(resp)
	if err := c.checkResp(v); err != nil {
		return err
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse endpoint(%s): %w", endpoint, err)
	}
	u.RawQuery = qv.Encode()

	addStdHeaders(headers)

	req := &http.Request{Method: http.MethodGet, URL: u, Header: headers}

	if body != nil {
		// Because we use a slightly different method for marshalling that
		// preserves unknown fields, we use that and not json.NewEncoder().
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("bug: conn.Call(): could not marshal the body object: %w", err)
		}
		req.Body = io.NopCloser(bytes.NewBuffer(data))
		req.Method = http.MethodPost
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}

	if resp != nil {
		if err := json.Unmarshal(data, resp); err != nil {
			return fmt.Errorf("json decode error: %w\njson message bytes were: %s", err, string(data))
		}
	}
	return nil
}

// XMLCall makes an HTTP GET call to endpoint and decodes the XML response
// into resp, which must be a pointer to a struct.
func (c *Client) XMLCall(ctx context.Context, endpoint string, headers http.Header, qv url.Values, resp interface{}) error {
	if err := c.checkResp(reflect.ValueOf(resp)); err != nil {
		return err
	}
	if qv == nil {
		qv = url.Values{}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse endpoint(%s): %w", endpoint, err)
	}
	u.RawQuery = qv.Encode()

	headers.Set("Content-Type", "application/xml; charset=utf-8")
	addStdHeaders(headers)

	return c.xmlCall(ctx, u, headers, "", resp)
}

// SOAPCall makes an HTTP POST to endpoint with body as the SOAP envelope and
// decodes the XML response into resp.
func (c *Client) SOAPCall(ctx context.Context, endpoint, action string, headers http.Header, qv url.Values, body string, resp interface{}) error {
	if body == "" {
		return fmt.Errorf("cannot make a SOAP call with an empty body")
	}
	if err := c.checkResp(reflect.ValueOf(resp)); err != nil {
		return err
	}
	if qv == nil {
		qv = url.Values{}
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse endpoint(%s): %w", endpoint, err)
	}
	u.RawQuery = qv.Encode()

	headers.Set("Content-Type", "application/soap+xml; charset=utf-8")
	headers.Set("SOAPAction", action)
	addStdHeaders(headers)

	return c.xmlCall(ctx, u, headers, body, resp)
}

// xmlCall sends an XML request (GET when body is empty, POST otherwise) and
// decodes the response into resp.
func (c *Client) xmlCall(ctx context.Context, u *url.URL, headers http.Header, body string, resp interface{}) error {
	req := &http.Request{Method: http.MethodGet, URL: u, Header: headers}

	if len(body) > 0 {
		req.Method = http.MethodPost
		req.Body = io.NopCloser(strings.NewReader(body))
	}

	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}

	return xml.Unmarshal(data, resp)
}

// URLFormCall makes a POST call to endpoint with a form-encoded body built
// from qv and decodes the JSON response into resp.
func (c *Client) URLFormCall(ctx context.Context, endpoint string, qv url.Values, resp interface{}) error {
	if len(qv) == 0 {
		return fmt.Errorf("URLFormCall() requires qv to have non-zero length")
	}
	if err := c.checkResp(reflect.ValueOf(resp)); err != nil {
		return err
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("could not parse endpoint(%s): %w", endpoint, err)
	}

	headers := http.Header{}
	headers.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")
	addStdHeaders(headers)

	enc := qv.Encode()
	req := &http.Request{
		Method:        http.MethodPost,
		URL:           u,
		Header:        headers,
		ContentLength: int64(len(enc)),
		Body:          io.NopCloser(strings.NewReader(enc)),
		GetBody: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(enc)), nil
		},
	}

	data, err := c.do(ctx, req)
	if err != nil {
		return err
	}

	if resp != nil {
		if err := json.Unmarshal(data, resp); err != nil {
			return fmt.Errorf("json decode error: %w\nraw message was: %s", err, string(data))
		}
	}
	return nil
}

// do makes the HTTP call and returns the raw response body. Any non-2xx
// status is returned as an errors.CallErr that preserves the request and the
// response (including its body) for inspection.
func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	req = req.WithContext(ctx)

	reply, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server response error:\n %w", err)
	}
	defer reply.Body.Close()

	data, err := c.readBody(reply)
	if err != nil {
		return nil, fmt.Errorf("could not read the body of an HTTP Response: %w", err)
	}
	reply.Body = io.NopCloser(bytes.NewReader(data))

	// NOTE: This doesn't happen immediately after the call so that we can get
	// a copy of the body into the error if needed.
	if reply.StatusCode < 200 || reply.StatusCode > 299 {
		return nil, errors.CallErr{
			Req:  req,
			Resp: reply,
			Err:  fmt.Errorf("http call(%s)(%s) error: reply status code was %d:\n%s", req.URL.String(), req.Method, reply.StatusCode, string(data)),
		}
	}
	return data, nil
}

// checkResp validates that resp is a pointer to a struct.
func (c *Client) checkResp(v reflect.Value) error {
	if v.Kind() != reflect.Ptr {
		return fmt.Errorf("bug: resp argument must be a pointer to a struct, was %T", v.Interface())
	}
	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("bug: resp argument must be a pointer to a struct, was %T", v.Interface())
	}
	return nil
}

// readBody reads the body content, decompressing gzip content if needed.
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch resp.Header.Get("Content-Encoding") {
	case "":
		// Do nothing
	case "gzip":
		reader = gzipDecompress(resp.Body)
	default:
		return nil, fmt.Errorf("bug: comm.Client.do(): content was send with unsupported content-encoding %s", resp.Header.Get("Content-Encoding"))
	}
	return io.ReadAll(reader)
}

var testIDLock sync.Mutex

func addStdHeaders(headers http.Header) http.Header {
	headers.Set("Accept-Encoding", "gzip")
	// So that I can have a consistent ID in tests.
	testIDLock.Lock()
	id := testID
	if id == "" {
		id = uuid.New().String()
	}
	testIDLock.Unlock()

	headers.Set("client-request-id", id)
	headers.Set("Return-Client-Request-Id", "false")
	headers.Set("x-client-sku", "veralis.go")
	headers.Set("x-client-os", runtime.GOOS)
	headers.Set("x-client-cpu", runtime.GOARCH)
	headers.Set("x-client-ver", version.Version)
	return headers
}
