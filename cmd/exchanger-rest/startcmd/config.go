/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package startcmd

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	ldcontext "github.com/hyperledger/aries-framework-go/component/models/ld/context"

	"github.com/hyperledger/aries-exchanger/pkg/doc/exchange"
	"github.com/hyperledger/aries-exchanger/pkg/ld"
	"github.com/hyperledger/aries-exchanger/pkg/trust/certchain"
)

// fileConfig is the layout of the configuration file. Relative file paths resolve against the
// directory of the configuration file.
type fileConfig struct {
	Workflows    []map[string]interface{} `mapstructure:"workflows"`
	TrustAnchors []anchorConfig           `mapstructure:"trustAnchors"`
	Contexts     []contextConfig          `mapstructure:"contexts"`
}

type anchorConfig struct {
	File string `mapstructure:"file"`
	PEM  string `mapstructure:"pem"`
}

type contextConfig struct {
	URL  string `mapstructure:"url"`
	File string `mapstructure:"file"`
}

type serviceConfig struct {
	Workflows    []*exchange.WorkflowDefinition
	TrustAnchors []*x509.Certificate
	Contexts     []ldcontext.Document
}

func loadConfig(path string) (*serviceConfig, error) {
	raw, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var doc map[string]interface{}

	if err = yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	var fc fileConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &fc,
	})
	if err != nil {
		return nil, err
	}

	if err = decoder.Decode(doc); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	if len(fc.Workflows) == 0 {
		return nil, fmt.Errorf("config file %s: no workflows configured", path)
	}

	dir := filepath.Dir(path)
	cfg := &serviceConfig{}

	for i, w := range fc.Workflows {
		wf, err := workflowDefinition(w)
		if err != nil {
			return nil, fmt.Errorf("workflow #%d: %w", i, err)
		}

		cfg.Workflows = append(cfg.Workflows, wf)
	}

	cfg.TrustAnchors, err = loadAnchors(dir, fc.TrustAnchors)
	if err != nil {
		return nil, err
	}

	for _, c := range fc.Contexts {
		if c.URL == "" || c.File == "" {
			return nil, fmt.Errorf("context entries need url and file")
		}

		doc, err := ld.ContextFromFile(c.URL, resolvePath(dir, c.File))
		if err != nil {
			return nil, err
		}

		cfg.Contexts = append(cfg.Contexts, doc)
	}

	return cfg, nil
}

// workflowDefinition goes through JSON so that presentation definitions decode with their own
// unmarshallers.
func workflowDefinition(w map[string]interface{}) (*exchange.WorkflowDefinition, error) {
	b, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}

	wf := &exchange.WorkflowDefinition{}

	if err = json.Unmarshal(b, wf); err != nil {
		return nil, err
	}

	return wf, nil
}

func loadAnchors(dir string, anchors []anchorConfig) ([]*x509.Certificate, error) {
	var inputs [][]byte

	for _, a := range anchors {
		switch {
		case a.PEM != "":
			inputs = append(inputs, []byte(a.PEM))
		case a.File != "":
			b, err := os.ReadFile(resolvePath(dir, a.File))
			if err != nil {
				return nil, fmt.Errorf("read trust anchor: %w", err)
			}

			inputs = append(inputs, b)
		default:
			return nil, fmt.Errorf("trust anchor entries need file or pem")
		}
	}

	if len(inputs) == 0 {
		return nil, nil
	}

	certs, err := certchain.ParseAnchors(inputs...)
	if err != nil {
		return nil, fmt.Errorf("trust anchors: %w", err)
	}

	return certs, nil
}

func resolvePath(dir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(dir, p)
}
