/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package cassette holds recorded HTTP interactions and the stores they are
// persisted in.  On disk a cassette is a gzip stream of size prefixed
// protobuf Struct messages: one header followed by one message per
// interaction.
package cassette

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"
)

// FormatVersion is written into every cassette header.
const FormatVersion = 1

// Interaction is one recorded request and the response it received.
type Interaction struct {
	Method         string
	URL            string
	RequestBody    []byte
	Status         int
	ResponseHeader http.Header
	ResponseBody   []byte
}

// Matches reports whether the interaction answers the given request.  The
// body is only compared when one was recorded.
func (i *Interaction) Matches(method, url string, body []byte) bool {
	if !strings.EqualFold(i.Method, method) || i.URL != url {
		return false
	}
	if len(i.RequestBody) == 0 {
		return true
	}
	return bytes.Equal(i.RequestBody, body)
}

type Cassette struct {
	Name         string
	Interactions []Interaction
}

func New(name string) *Cassette {
	return &Cassette{Name: name}
}

func (c *Cassette) Add(i Interaction) {
	c.Interactions = append(c.Interactions, i)
}

func (c *Cassette) header() (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"name":         c.Name,
		"version":      FormatVersion,
		"interactions": len(c.Interactions),
	})
}

// ToProto converts an interaction into its wire representation.  Bodies are
// base64 encoded since Struct values only carry text.
func (i *Interaction) ToProto() (*structpb.Struct, error) {
	keys := make([]string, 0, len(i.ResponseHeader))
	for k := range i.ResponseHeader {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := map[string]interface{}{}
	for _, k := range keys {
		values := make([]interface{}, len(i.ResponseHeader[k]))
		for j, v := range i.ResponseHeader[k] {
			values[j] = v
		}
		header[k] = values
	}

	s, err := structpb.NewStruct(map[string]interface{}{
		"method":         i.Method,
		"url":            i.URL,
		"requestBody":    base64.StdEncoding.EncodeToString(i.RequestBody),
		"status":         i.Status,
		"responseHeader": header,
		"responseBody":   base64.StdEncoding.EncodeToString(i.ResponseBody),
	})
	if err != nil {
		return nil, errors.WithMessage(err, "could not convert interaction")
	}

	return s, nil
}

// InteractionFromProto is the inverse of ToProto.
func InteractionFromProto(s *structpb.Struct) (Interaction, error) {
	fields := s.GetFields()

	requestBody, err := base64.StdEncoding.DecodeString(fields["requestBody"].GetStringValue())
	if err != nil {
		return Interaction{}, errors.WithMessage(err, "could not decode request body")
	}

	responseBody, err := base64.StdEncoding.DecodeString(fields["responseBody"].GetStringValue())
	if err != nil {
		return Interaction{}, errors.WithMessage(err, "could not decode response body")
	}

	var header http.Header
	if h := fields["responseHeader"].GetStructValue(); h != nil && len(h.GetFields()) > 0 {
		header = http.Header{}
		for k, v := range h.GetFields() {
			for _, value := range v.GetListValue().GetValues() {
				header[k] = append(header[k], value.GetStringValue())
			}
		}
	}

	method := fields["method"].GetStringValue()
	if method == "" {
		return Interaction{}, errors.Errorf("interaction has no method")
	}

	return Interaction{
		Method:         method,
		URL:            fields["url"].GetStringValue(),
		RequestBody:    nilIfEmpty(requestBody),
		Status:         int(fields["status"].GetNumberValue()),
		ResponseHeader: header,
		ResponseBody:   nilIfEmpty(responseBody),
	}, nil
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
