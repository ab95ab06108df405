package validator

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"proxyfinder/internal/shared/logger"
	"proxyfinder/internal/shared/types"
	"proxyfinder/proxypool/model"
)

const (
	defaultTestTimeout = 8 * time.Second
	defaultGeoTimeout  = 6 * time.Second

	// maxDrainBytes bounds how much of a response body is read before it is discarded.
	maxDrainBytes = 1 << 20
)

// ErrUnreachable is returned when no scheme produced a valid result for a proxy.
var ErrUnreachable = errors.New("proxy unreachable")

// schemeOrder is fixed: most listed proxies are plain HTTP.
var schemeOrder = []model.Scheme{model.SchemePlain, model.SchemeEncrypted}

// geoAPIResponse is the subset of the ipapi.co JSON we rely on.
type geoAPIResponse struct {
	CountryCode string `json:"country_code"`
	Error       bool   `json:"error"`
	Reason      string `json:"reason"`
}

// Validator tests a candidate against a target URL through the candidate itself.
type Validator struct {
	timeout time.Duration
	geo     types.GeoOptions
}

// NewValidator creates a Validator. A zero timeout selects the default.
func NewValidator(timeout time.Duration, geo types.GeoOptions) *Validator {
	if timeout <= 0 {
		timeout = defaultTestTimeout
	}
	if geo.Timeout <= 0 {
		geo.Timeout = defaultGeoTimeout
	}
	return &Validator{timeout: timeout, geo: geo}
}

// Test tries the plain scheme and then the encrypted one. The first scheme that
// passes reachability (and the geolocation check, when enabled) wins; its
// latency is the duration of the target request alone.
func (v *Validator) Test(ctx context.Context, candidate model.Candidate, target string) (*model.TestOutcome, error) {
	l := logger.WithComponent("ProxyPool/Validator")

	var lastErr error
	for _, scheme := range schemeOrder {
		outcome, err := v.attempt(ctx, candidate, target, scheme)
		if err == nil {
			return outcome, nil
		}
		l.Debug().Err(err).Str("proxy", candidate.String()).Str("scheme", string(scheme)).Msg("Scheme attempt failed.")
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, candidate, lastErr)
}

func (v *Validator) attempt(ctx context.Context, candidate model.Candidate, target string, scheme model.Scheme) (*model.TestOutcome, error) {
	proxyURL, err := url.Parse(fmt.Sprintf("%s://%s", scheme, candidate))
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}

	transport := newProxyTransport(proxyURL, v.timeout)
	defer transport.CloseIdleConnections()

	client := &http.Client{Transport: transport, Timeout: v.timeout}

	start := time.Now()
	status, err := get(ctx, client, target, nil)
	latency := time.Since(start)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 400 {
		return nil, fmt.Errorf("received non-successful status code: %d", status)
	}

	if v.geo.Enabled {
		geoClient := &http.Client{Transport: transport, Timeout: v.geo.Timeout}
		if err := v.checkCountry(ctx, geoClient); err != nil {
			return nil, err
		}
	}

	return &model.TestOutcome{Latency: latency, Scheme: scheme}, nil
}

// checkCountry asks the geolocation endpoint, through the proxy, where the
// exit address is located.
func (v *Validator) checkCountry(ctx context.Context, client *http.Client) error {
	var apiResp geoAPIResponse
	status, err := get(ctx, client, v.geo.Endpoint, &apiResp)
	if err != nil {
		return fmt.Errorf("geo lookup failed: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("geo lookup returned status %d", status)
	}
	if apiResp.Error {
		return fmt.Errorf("geo lookup error: %s", apiResp.Reason)
	}
	if !strings.EqualFold(apiResp.CountryCode, v.geo.ExpectedCountry) {
		return fmt.Errorf("exit country %q does not match %q", apiResp.CountryCode, v.geo.ExpectedCountry)
	}
	return nil
}

// get performs a GET and reads the body, decoding it as JSON into out when out is non-nil.
func get(ctx context.Context, client *http.Client, target string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxDrainBytes)
	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
		return resp.StatusCode, nil
	}
	if _, err := io.Copy(io.Discard, body); err != nil {
		return resp.StatusCode, err
	}
	return resp.StatusCode, nil
}

// newProxyTransport routes both plain and TLS upstream traffic through proxyURL.
// Certificates are not verified: the proxy is under test, not the target.
func newProxyTransport(proxyURL *url.URL, timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyURL(proxyURL),
		DialContext:           dialer.DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: true},
		TLSHandshakeTimeout:   timeout / 2,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
