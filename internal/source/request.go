package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/template"

	"github.com/JakeFAU/harvester/internal/harvest"
)

type templateData struct {
	ID     string
	Fields map[string]string
}

var templateFuncs = template.FuncMap{
	"query": url.QueryEscape,
	"path":  url.PathEscape,
	"json": func(v string) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
	"env": os.Getenv,
}

// NewRequestBuilder compiles the URL and body templates of a source. Header values are expanded
// from the environment so credentials stay out of config files.
func NewRequestBuilder(cfg Config) (harvest.RequestBuilder, error) {
	urlTmpl, err := template.New("url").Funcs(templateFuncs).Option("missingkey=error").Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url template: %w", err)
	}
	var bodyTmpl *template.Template
	if cfg.Body != "" {
		bodyTmpl, err = template.New("body").Funcs(templateFuncs).Option("missingkey=error").Parse(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("parse body template: %w", err)
		}
	}
	method := cfg.EffectiveMethod()
	headers := make(http.Header, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers.Set(k, os.ExpandEnv(v))
	}
	if bodyTmpl != nil && headers.Get("Content-Type") == "" {
		headers.Set("Content-Type", "application/json")
	}

	return func(item harvest.WorkItem) (harvest.Request, error) {
		data := templateData{ID: item.ID, Fields: item.Fields}
		if data.Fields == nil {
			data.Fields = map[string]string{}
		}
		var u bytes.Buffer
		if err := urlTmpl.Execute(&u, data); err != nil {
			return harvest.Request{}, fmt.Errorf("render url for %q: %w", item.ID, err)
		}
		req := harvest.Request{
			Method: method,
			URL:    u.String(),
			Header: headers.Clone(),
		}
		if bodyTmpl != nil {
			var b bytes.Buffer
			if err := bodyTmpl.Execute(&b, data); err != nil {
				return harvest.Request{}, fmt.Errorf("render body for %q: %w", item.ID, err)
			}
			req.Body = b.Bytes()
		}
		return req, nil
	}, nil
}
