// Copyright (C) EvanL1.
// All rights reserved. This file is part of VoltageEMS-sub001.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Kind identifies which embedded schema to validate a document against.
type Kind int

const (
	// Config is the comsrv-gateway program configuration schema.
	Config Kind = iota + 1
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadSchema(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedFS"] = loadSchema
}

// Validate decodes r as JSON and checks it against the schema named by k.
func Validate(k Kind, r io.Reader) error {
	var s *jsonschema.Schema
	var err error

	switch k {
	case Config:
		s, err = jsonschema.Compile("embedFS://schemas/config.schema.json")
	default:
		return fmt.Errorf("schema: unknown kind %d", k)
	}
	if err != nil {
		return fmt.Errorf("schema: compiling schema: %w", err)
	}

	var v interface{}
	if err := json.NewDecoder(r).Decode(&v); err != nil {
		return fmt.Errorf("schema: decoding document: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("schema: validation failed: %w", err)
	}
	return nil
}
