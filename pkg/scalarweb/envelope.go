package scalarweb

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Request is the body posted to an endpoint. Params is always sent as a
// list, the device rejects a missing member.
type Request struct {
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
	Version string `json:"version"`
}

// Result is a successful response envelope. Callers share cached values so
// they must treat the raw members as read only.
type Result struct {
	ID      int               `json:"id"`
	Result  []json.RawMessage `json:"result,omitempty"`
	Results []json.RawMessage `json:"results,omitempty"`
}

type envelope struct {
	Result
	Error []json.RawMessage `json:"error,omitempty"`
}

// Value decodes the i-th element of the result list into out.
func (r *Result) Value(i int, out any) error {
	values := r.Result
	if len(values) == 0 {
		values = r.Results
	}
	if i < 0 || i >= len(values) {
		return fmt.Errorf("scalarweb: result has %d elements, want index %d", len(values), i)
	}
	return json.Unmarshal(values[i], out)
}

// Rows decodes every element of results (or result) as a list. Used by the
// introspection calls that answer with tables.
func (r *Result) Rows() ([][]json.RawMessage, error) {
	values := r.Results
	if len(values) == 0 {
		values = r.Result
	}
	rows := make([][]json.RawMessage, 0, len(values))
	for _, v := range values {
		var row []json.RawMessage
		if err := json.Unmarshal(v, &row); err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func decodeEnvelope(body []byte) (*Result, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ProtocolError{Code: ERROR_CODE_MALFORMED_RESPONSE, Message: "invalid data in returned JSON: " + err.Error()}
	}
	if len(env.Error) > 0 {
		perr := &ProtocolError{Code: ERROR_CODE_ANY}
		if err := json.Unmarshal(env.Error[0], &perr.Code); err != nil {
			perr.Message = string(env.Error[0])
		}
		if len(env.Error) > 1 {
			_ = json.Unmarshal(env.Error[1], &perr.Message)
		}
		return nil, perr
	}
	return &env.Result, nil
}

// fixDoubleCommas repairs the accessControl introspection body emitted by
// some firmware, which contains empty list elements like [1,,2].
func fixDoubleCommas(body []byte) []byte {
	for bytes.Contains(body, []byte(",,")) {
		body = bytes.ReplaceAll(body, []byte(",,"), []byte(","))
	}
	return body
}
