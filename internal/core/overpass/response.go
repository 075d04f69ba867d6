package overpass

import (
	"encoding/json"
	"fmt"

	"github.com/mohammed-shakir/osm-poi-fetcher/internal/core/model"
)

type envelope struct {
	Elements []json.RawMessage `json:"elements"`
	Remark   string            `json:"remark"`
}

// DecodeResult parses a response body. Only the top-level elements list is
// checked; a missing list is an empty result. Elements that do not match the
// expected shape are kept as zero values and counted in Undecodable.
func DecodeResult(body []byte) (*model.Result, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode overpass response: %w", err)
	}
	res := &model.Result{
		Raw:      json.RawMessage(body),
		Elements: make([]model.Element, 0, len(env.Elements)),
		Remark:   env.Remark,
	}
	for _, raw := range env.Elements {
		var el model.Element
		if err := json.Unmarshal(raw, &el); err != nil {
			el = model.Element{}
			res.Undecodable++
		}
		res.Elements = append(res.Elements, el)
	}
	return res, nil
}
