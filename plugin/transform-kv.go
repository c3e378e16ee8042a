package plugin

/*
	KV Frame Decoder

	Decodes a plain text body of delimited key/values:

		# primary face only
		face=1
		left=31
		right=30

	Whitespace, comments, and quotes are ignored.
*/

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	Mt "github.com/maroda/blinkwise/types"
)

type KVFrameDecoder struct {
	Delimiter string
	FaceKey   string
	LeftKey   string
	RightKey  string
}

func NewKVFrameDecoder() *KVFrameDecoder {
	return &KVFrameDecoder{
		Delimiter: "=",
		FaceKey:   "face",
		LeftKey:   "left",
		RightKey:  "right",
	}
}

func (kd *KVFrameDecoder) Decode(body []byte) (Mt.Frame, error) {
	kv, err := ParseKV(bytes.NewReader(body), kd.Delimiter)
	if err != nil {
		return Mt.Frame{}, err
	}

	if face, ok := kv[kd.FaceKey]; ok {
		present, err := strconv.ParseBool(face)
		if err != nil {
			return Mt.Frame{}, fmt.Errorf("invalid %s value %q: %w", kd.FaceKey, face, err)
		}
		if !present {
			return Mt.Frame{}, nil
		}
	}

	lv, lok := kv[kd.LeftKey]
	rv, rok := kv[kd.RightKey]
	if !lok || !rok {
		return Mt.Frame{}, nil
	}

	left, err := strconv.ParseFloat(lv, 64)
	if err != nil {
		return Mt.Frame{}, fmt.Errorf("invalid %s ratio %q: %w", kd.LeftKey, lv, err)
	}
	right, err := strconv.ParseFloat(rv, 64)
	if err != nil {
		return Mt.Frame{}, fmt.Errorf("invalid %s ratio %q: %w", kd.RightKey, rv, err)
	}

	return Mt.Frame{
		FacePresent: true,
		Sample:      Mt.Sample{RatioLeft: left, RatioRight: right},
	}, nil
}

func (kd *KVFrameDecoder) Type() string { return "kv" }

// ParseKV streams input and populates a map for all key/values,
// removing whitespace and comments
func ParseKV(reader io.Reader, d string) (map[string]string, error) {
	kv := make(map[string]string)
	scanner := bufio.NewScanner(reader)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// ignore whitespace and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, d, 2)
		if len(parts) != 2 {
			slog.Warn("Invalid line", slog.String("line", line))
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		// Take care of any trailing quotes and comments
		if pos := strings.IndexAny(value, `"'#`); pos != -1 {
			value = strings.TrimSpace(value[:pos])
		}
		kv[key] = value
	}

	if err := scanner.Err(); err != nil {
		slog.Error("Problem scanning input", slog.Any("error", err))
		return nil, fmt.Errorf("scanning error: %w", err)
	}

	return kv, nil
}
