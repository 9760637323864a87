package engine

import (
	"encoding/json"
	"encoding/xml"
	"errors"

	"github.com/benetwork/benetwork/internal/core"
)

// DecodeJSON unmarshals a response body. Failures are parsing errors and
// are never retried.
func DecodeJSON[T any](resp *core.Response) (T, error) {
	var out T
	if err := checkDecodable(resp); err != nil {
		return out, err
	}
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return out, parsingFailure(resp, err)
	}
	return out, nil
}

// DecodeXML unmarshals an XML response body.
func DecodeXML[T any](resp *core.Response) (T, error) {
	var out T
	if err := checkDecodable(resp); err != nil {
		return out, err
	}
	if err := xml.Unmarshal(resp.Body, &out); err != nil {
		return out, parsingFailure(resp, err)
	}
	return out, nil
}

func checkDecodable(resp *core.Response) error {
	if resp == nil {
		return &core.RequestError{Kind: core.KindNoDataReceived, Err: core.ErrNoDataReceived}
	}
	if len(resp.Body) == 0 {
		return parsingFailure(resp, errors.New("empty response body"))
	}
	return nil
}

func parsingFailure(resp *core.Response, err error) error {
	return &core.RequestError{
		Kind:       core.KindParsingFailure,
		StatusCode: resp.StatusCode,
		Attempts:   resp.Attempts,
		URL:        resp.CacheKey,
		Err:        err,
	}
}
