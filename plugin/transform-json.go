package plugin

/*
	JSON Frame Decoder

	Decodes a landmark collaborator response body of the form:

		{"face": true, "ratio": {"left": 31, "right": 30}}

	or, with raw geometry instead of precomputed ratios:

		{"face": true, "landmarks": {"left": {"up": {"x":1,"y":2}, ...}, "right": {...}}}

	Key paths are dot separated and configurable.
*/

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	Mt "github.com/maroda/blinkwise/types"
)

// ErrKeyNotFound is returned by ExtractValue when a path segment is missing
var ErrKeyNotFound = errors.New("key not found")

type JSONFrameDecoder struct {
	FaceKey  string
	LeftKey  string
	RightKey string
}

// NewJSONFrameDecoder returns a decoder with the default key paths
func NewJSONFrameDecoder() *JSONFrameDecoder {
	return &JSONFrameDecoder{
		FaceKey:  "face",
		LeftKey:  "ratio.left",
		RightKey: "ratio.right",
	}
}

type landmarkBody struct {
	Landmarks *struct {
		Left  *Mt.EyeLandmarks `json:"left"`
		Right *Mt.EyeLandmarks `json:"right"`
	} `json:"landmarks"`
}

// Decode returns a no-face Frame when the face key is false or absent
// and neither ratios nor landmarks are present.
func (jd *JSONFrameDecoder) Decode(body []byte) (Mt.Frame, error) {
	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		slog.Error("Error unmarshalling json",
			slog.String("json", string(body)),
			slog.Any("error", err))
		return Mt.Frame{}, fmt.Errorf("error unmarshalling frame: %w", err)
	}

	if face, err := lookup(data, jd.FaceKey); err == nil {
		if present, ok := face.(bool); ok && !present {
			return Mt.Frame{}, nil
		}
	}

	var lb landmarkBody
	if err := json.Unmarshal(body, &lb); err == nil && lb.Landmarks != nil &&
		lb.Landmarks.Left != nil && lb.Landmarks.Right != nil {
		return FrameFromLandmarks(*lb.Landmarks.Left, *lb.Landmarks.Right, time.Time{}), nil
	}

	left, err := ExtractValue(data, jd.LeftKey)
	if errors.Is(err, ErrKeyNotFound) {
		return Mt.Frame{}, nil
	}
	if err != nil {
		return Mt.Frame{}, fmt.Errorf("error extracting left ratio: %w", err)
	}
	right, err := ExtractValue(data, jd.RightKey)
	if err != nil {
		return Mt.Frame{}, fmt.Errorf("error extracting right ratio: %w", err)
	}

	return Mt.Frame{
		FacePresent: true,
		Sample:      Mt.Sample{RatioLeft: left, RatioRight: right},
	}, nil
}

func (jd *JSONFrameDecoder) Type() string { return "json" }

// ExtractValue walks a dot separated path and returns the numeric leaf
func ExtractValue(data interface{}, path string) (float64, error) {
	current, err := lookup(data, path)
	if err != nil {
		return 0, err
	}

	switch v := current.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, fmt.Errorf("error converting json.Number: %w", err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value not numeric: %T", v)
	}
}

func lookup(data interface{}, path string) (interface{}, error) {
	current := data
	for _, key := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			var ok bool
			current, ok = v[key]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
			}
		case []interface{}:
			return nil, fmt.Errorf("array indexing not implemented yet")
		default:
			return nil, fmt.Errorf("cannot traverse into type %T at key %s", v, key)
		}
	}
	return current, nil
}
