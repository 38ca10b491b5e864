package endpoint

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cast"

	"github.com/GabrielNunesIT/import-pipeline/internal/model"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultTimeField     = "timestamp"
)

// HTTPDoer abstracts HTTP client operations for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Ensure http.Client implements HTTPDoer.
var _ HTTPDoer = (*http.Client)(nil)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// post sends body to url and fails on a 4xx or 5xx status.
func post(ctx context.Context, client HTTPDoer, url, contentType string, body []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("push to %s failed with status: %d", url, resp.StatusCode)
	}
	return nil
}

// recordTime returns the time stored in field, parsing text values. Records
// without a usable time get the current time.
func recordTime(rec *model.Map, field string) time.Time {
	v := rec.GetPath(field)
	switch v.Kind() {
	case model.KindTime:
		return v.Time()
	case model.KindString, model.KindInt:
		if t, err := cast.ToTimeE(v.Native()); err == nil {
			return t
		}
	}
	return time.Now()
}

// recordMessage renders the log line of a record: the text of field when
// set and present, the record as JSON otherwise.
func recordMessage(rec *model.Map, field string) (string, error) {
	if field != "" {
		if v := rec.GetPath(field); !v.IsNull() {
			return v.String(), nil
		}
	}
	data, err := rec.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(data), nil
}
