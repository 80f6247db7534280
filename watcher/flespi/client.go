// Package flespi talks to the flespi.io gateway: the device roster, the latest
// device telemetry and the device command queue.
package flespi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/kodek/doorguard/watcher/car"
	"github.com/kodek/doorguard/watcher/rules"
	"github.com/pkg/errors"
)

// ErrNoTelemetry is returned when a device has not reported anything yet.
var ErrNoTelemetry = errors.New("no telemetry reported for device")

// Client is a flespi REST client authenticated with a FlespiToken.
type Client struct {
	baseURL    string
	token      string
	selector   string
	httpClient *http.Client
}

// NewClient creates a Client. selector narrows the device roster ("all" when empty).
func NewClient(baseURL, token, selector string) *Client {
	if selector == "" {
		selector = "all"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		selector:   selector,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type apiError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

type envelope struct {
	Result json.RawMessage `json:"result"`
	Errors []apiError      `json:"errors"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "cannot encode request")
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return errors.Wrap(err, "cannot build request")
	}
	req = req.WithContext(ctx)
	req.Header.Set("Authorization", "FlespiToken "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		return errors.Wrapf(err, "cannot decode response of %s %s (HTTP %d)", method, path, resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 || len(env.Errors) > 0 {
		reasons := make([]string, 0, len(env.Errors))
		for _, e := range env.Errors {
			reasons = append(reasons, e.Reason)
		}
		return errors.Errorf("%s %s failed with HTTP %d: %s", method, path, resp.StatusCode, strings.Join(reasons, "; "))
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(env.Result, out), "cannot decode result")
}

type deviceItem struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Connected     bool   `json:"connected"`
	Configuration struct {
		Ident string `json:"ident"`
	} `json:"configuration"`
}

// Devices lists the roster, keyed by the configured ident (IMEI).
func (c *Client) Devices(ctx context.Context) ([]car.Device, error) {
	path := fmt.Sprintf("/gw/devices/%s?fields=%s", url.PathEscape(c.selector), url.QueryEscape("id,name,configuration,connected"))
	var items []deviceItem
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, errors.Wrap(err, "cannot list flespi devices")
	}
	devices := make([]car.Device, 0, len(items))
	for _, it := range items {
		if it.Configuration.Ident == "" {
			glog.Warningf("Skipping flespi device %d without an ident", it.ID)
			continue
		}
		devices = append(devices, car.Device{
			ID:     it.ID,
			Ident:  it.Configuration.Ident,
			Name:   it.Name,
			Online: it.Connected,
		})
	}
	return devices, nil
}

type telemetryParam struct {
	Value interface{} `json:"value"`
	Ts    float64     `json:"ts"`
}

type telemetryItem struct {
	ID        int64                     `json:"id"`
	Telemetry map[string]telemetryParam `json:"telemetry"`
}

// Latest returns the device's current telemetry as one record. The record is
// stamped with the newest parameter timestamp.
func (c *Client) Latest(ctx context.Context, d car.Device) (rules.TelemetryRecord, error) {
	path := fmt.Sprintf("/gw/devices/%d/telemetry/all", d.ID)
	var items []telemetryItem
	if err := c.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return rules.TelemetryRecord{}, errors.Wrapf(err, "cannot fetch telemetry for %s", d)
	}
	if len(items) == 0 || len(items[0].Telemetry) == 0 {
		return rules.TelemetryRecord{}, ErrNoTelemetry
	}

	raw := make(map[string]interface{}, len(items[0].Telemetry))
	var newest float64
	for name, p := range items[0].Telemetry {
		raw[name] = p.Value
		newest = math.Max(newest, p.Ts)
	}
	signals, dropped := rules.DecodeSignals(raw)
	if len(dropped) > 0 {
		glog.V(2).Infof("Ignoring non-scalar parameters for %s: %v", d.Ident, dropped)
	}
	return rules.NewRecord(d.Ident, int64(newest*1000), signals), nil
}

type command struct {
	Name       string                 `json:"name"`
	Properties map[string]interface{} `json:"properties"`
	Address    string                 `json:"address"`
}

// SendCommand executes a named command on the device over its live connection.
func (c *Client) SendCommand(ctx context.Context, d car.Device, name string, properties map[string]interface{}) error {
	if properties == nil {
		properties = map[string]interface{}{}
	}
	path := fmt.Sprintf("/gw/devices/%d/commands", d.ID)
	body := []command{{Name: name, Properties: properties, Address: "connection"}}
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return errors.Wrapf(err, "cannot send %s to %s", name, d)
	}
	return nil
}
