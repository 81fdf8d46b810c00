/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package netcapture

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/hyperledger-labs/testscope/pkg/cassette"
)

// transport is installed as http.DefaultTransport while a cassette is
// active.
type transport struct {
	recorder *Recorder
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	body, err := readBody(req)
	if err != nil {
		return nil, err
	}

	r := t.recorder
	method, url := req.Method, req.URL.String()
	if method == "" {
		method = http.MethodGet
	}

	s, replayed, upstream, err := t.match(method, url, body)
	if err != nil {
		return nil, err
	}
	if replayed != nil {
		r.logger.Debug().Str("method", method).Str("url", url).Msg("replayed")
		return response(req, replayed), nil
	}

	// Upstream calls run unlocked; the handler of an in-process service may
	// itself issue requests through this transport.
	if r.config.Heal {
		interaction, err := t.forward(upstream, req, method, url, body)
		if err != nil {
			return nil, err
		}

		r.mutex.Lock()
		if r.session == s {
			s.served = append(s.served, *interaction)
			s.healed = true
		}
		r.mutex.Unlock()

		r.logger.Debug().Str("method", method).Str("url", url).Int("status", interaction.Status).Msg("recorded")
		return response(req, interaction), nil
	}

	req.Body = io.NopCloser(bytes.NewReader(body))
	return upstream.RoundTrip(req)
}

// match reserves the first unused interaction matching the request.  A nil
// interaction without error means the request has to go to the returned
// upstream.
func (t *transport) match(method, url string, body []byte) (*session, *cassette.Interaction, http.RoundTripper, error) {
	r := t.recorder
	r.mutex.Lock()
	defer r.mutex.Unlock()

	s := r.session
	if s == nil {
		return nil, nil, nil, errors.Errorf("request to %s after cassette was released", url)
	}

	if err := s.ctx.Err(); err != nil {
		return nil, nil, nil, errors.WithMessagef(err, "request to %s", url)
	}

	for i := range s.cassette.Interactions {
		if s.used[i] || !s.cassette.Interactions[i].Matches(method, url, body) {
			continue
		}

		s.used[i] = true
		s.served = append(s.served, s.cassette.Interactions[i])
		return s, &s.cassette.Interactions[i], nil, nil
	}

	if r.config.Heal || r.config.Lenient {
		return s, nil, r.upstream, nil
	}

	s.unmatched = append(s.unmatched, method+" "+url)
	return nil, nil, nil, errors.WithMessagef(ErrUnmatched, "%s %s", method, url)
}

func (t *transport) forward(upstream http.RoundTripper, req *http.Request, method, url string, body []byte) (*cassette.Interaction, error) {
	upstreamReq := req.Clone(req.Context())
	upstreamReq.Body = io.NopCloser(bytes.NewReader(body))
	upstreamReq.ContentLength = int64(len(body))

	resp, err := upstream.RoundTrip(upstreamReq)
	if err != nil {
		return nil, errors.WithMessagef(err, "upstream %s %s", method, url)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithMessagef(err, "could not read upstream response of %s %s", method, url)
	}

	var requestBody []byte
	if len(body) > 0 {
		requestBody = body
	}
	var responseBody []byte
	if len(respBody) > 0 {
		responseBody = respBody
	}

	return &cassette.Interaction{
		Method:         method,
		URL:            url,
		RequestBody:    requestBody,
		Status:         resp.StatusCode,
		ResponseHeader: t.recorder.stripped(resp.Header),
		ResponseBody:   responseBody,
	}, nil
}

func readBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, errors.WithMessage(err, "could not read request body")
	}
	return body, nil
}

func response(req *http.Request, i *cassette.Interaction) *http.Response {
	header := i.ResponseHeader.Clone()
	if header == nil {
		header = http.Header{}
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", i.Status, http.StatusText(i.Status)),
		StatusCode:    i.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(i.ResponseBody)),
		ContentLength: int64(len(i.ResponseBody)),
		Request:       req,
	}
}
