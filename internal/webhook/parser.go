package webhook

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cast"

	"signalbridge/internal/model"
)

// Parse 解析 TradingView 告警。
// application/json 直接解码；text/plain 支持以 '=' 开头的 JSON 首行、KEY=VALUE 行和单独的 BUY/SELL 行。
// configID 非空时覆盖载荷里的 config_id。
func Parse(contentType string, body []byte, configID string) (model.WebhookRequest, error) {
	var (
		fields map[string]any
		err    error
	)
	switch mediaType(contentType) {
	case "application/json":
		fields, err = parseJSON(body)
	case "text/plain", "":
		fields, err = parseText(string(body))
	default:
		return model.WebhookRequest{}, malformed("unsupported content type %q", contentType)
	}
	if err != nil {
		return model.WebhookRequest{}, err
	}
	if configID != "" {
		fields["config_id"] = configID
	}
	return toRequest(fields)
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

func parseJSON(body []byte) (map[string]any, error) {
	fields := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, malformed("invalid json: %v", err)
	}
	return fields, nil
}

func parseText(text string) (map[string]any, error) {
	fields := make(map[string]any)
	text = strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n")

	if strings.HasPrefix(text, "=") {
		first, rest, _ := strings.Cut(text[1:], "\n")
		head, err := parseJSON([]byte(first))
		if err != nil {
			return nil, err
		}
		for k, v := range head {
			fields[k] = v
		}
		text = rest
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok {
			fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
			continue
		}
		if up := strings.ToUpper(line); up == "BUY" || up == "SELL" {
			fields["action"] = line
		}
	}
	return fields, nil
}

func toRequest(fields map[string]any) (model.WebhookRequest, error) {
	var (
		req      model.WebhookRequest
		problems []string
	)
	req.Symbol = cast.ToString(lookup(fields, "symbol"))
	req.Action = cast.ToString(lookup(fields, "action"))
	req.ConfigID = cast.ToString(lookup(fields, "config_id"))
	req.Timestamp = cast.ToString(lookup(fields, "timestamp"))
	req.Comment = cast.ToString(lookup(fields, "comment"))

	for _, p := range []struct {
		key string
		dst *float64
	}{
		{"PRICE", &req.Price},
		{"T1", &req.TakeProfit},
		{"STOP", &req.StopLoss},
	} {
		raw := lookup(fields, p.key)
		if raw == nil {
			continue
		}
		if n, ok := raw.(json.Number); ok {
			raw = n.String()
		}
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s is not a number: %v", p.key, raw))
			continue
		}
		*p.dst = v
	}
	if len(problems) > 0 {
		return req, &model.MalformedSignalError{Problems: problems}
	}
	return req, nil
}

// lookup 键名不区分大小写
func lookup(fields map[string]any, key string) any {
	if v, ok := fields[key]; ok {
		return v
	}
	for k, v := range fields {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

func malformed(format string, args ...any) error {
	return &model.MalformedSignalError{Problems: []string{fmt.Sprintf(format, args...)}}
}
