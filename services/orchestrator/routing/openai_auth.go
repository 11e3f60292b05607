// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routing

import (
	"fmt"
	"net/http"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
)

// sealedKeyTransport adds the bearer token to each request from an
// encrypted enclave. The plaintext key lives in locked memory only for the
// duration of a header write.
type sealedKeyTransport struct {
	key  *memguard.Enclave
	base http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *sealedKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	buf, err := t.key.Open()
	if err != nil {
		return nil, fmt.Errorf("open api key enclave: %w", err)
	}
	header := "Bearer " + string(buf.Bytes())
	buf.Destroy()

	out := req.Clone(req.Context())
	out.Header.Set("Authorization", header)
	return t.base.RoundTrip(out)
}

// newSealedOpenAIClient builds an OpenAI client that never holds apiKey as
// a plain string. The bytes of apiKey are wiped once sealed. An empty
// baseURL keeps the public endpoint.
func newSealedOpenAIClient(apiKey []byte, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig("")
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Transport: &sealedKeyTransport{
		key:  memguard.NewEnclave(apiKey),
		base: http.DefaultTransport,
	}}
	return openai.NewClientWithConfig(cfg)
}
