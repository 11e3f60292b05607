// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAdvisor/pkg/ux"
	"github.com/AleutianAI/AleutianAdvisor/services/orchestrator/datatypes"
)

// APIError is a non-2xx reply from the service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Client calls the command service over HTTP.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the service at baseURL. token is sent as a
// bearer token when non-empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// No overall timeout: streamed turns stay open until done.
		http: &http.Client{Transport: &http.Transport{ResponseHeaderTimeout: 30 * time.Second}},
	}
}

// Stream sends req as a streamed command and calls fn for each event up to
// and including the terminal one.
func (c *Client) Stream(ctx context.Context, req datatypes.CommandRequest, fn func(datatypes.StreamEvent) error) error {
	stream := true
	req.Stream = &stream

	resp, err := c.post(ctx, "/v1/command", req, "text/event-stream")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return ux.ReadStream(ctx, resp.Body, fn)
}

// Command sends req with streaming disabled and returns the JSON reply.
func (c *Client) Command(ctx context.Context, req datatypes.CommandRequest) (*datatypes.CommandResponse, error) {
	stream := false
	req.Stream = &stream

	resp, err := c.post(ctx, "/v1/command", req, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out datatypes.CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode command response: %w", err)
	}
	return &out, nil
}

// Tools fetches the tool catalog.
func (c *Client) Tools(ctx context.Context) ([]datatypes.ToolSpec, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tools", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out struct {
		Tools []datatypes.ToolSpec `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tool catalog: %w", err)
	}
	return out.Tools, nil
}

func (c *Client) post(ctx context.Context, path string, body any, accept string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	return c.do(httpReq)
}

// do sends the request and turns non-2xx replies into an APIError.
func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not reach the advisor service at %s: %w", c.baseURL, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		apiErr.Message = body.Error
	}
	return nil, apiErr
}
