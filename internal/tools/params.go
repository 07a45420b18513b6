package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// JSON numbers arrive as float64; clients sometimes send them as strings.
func intParam(params map[string]interface{}, name string) (int64, bool, error) {
	switch v := params[name].(type) {
	case nil:
		return 0, false, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, false, fmt.Errorf("invalid %s: %v is not an integer", name, v)
		}
		return int64(v), true, nil
	case string:
		if v == "" {
			return 0, false, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false, fmt.Errorf("invalid %s: %w", name, err)
		}
		return n, true, nil
	default:
		return 0, false, fmt.Errorf("invalid %s: unexpected type %T", name, v)
	}
}

func requireInt(params map[string]interface{}, name string) (int64, error) {
	n, ok, err := intParam(params, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%s is required", name)
	}
	return n, nil
}

func requireUID(params map[string]interface{}) (uint32, error) {
	n, err := requireInt(params, "uid")
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > math.MaxUint32 {
		return 0, fmt.Errorf("invalid uid: %d", n)
	}
	return uint32(n), nil
}

func stringParam(params map[string]interface{}, name string) *string {
	if s, ok := params[name].(string); ok && s != "" {
		return &s
	}
	return nil
}

func requireString(params map[string]interface{}, name string) (string, error) {
	s := stringParam(params, name)
	if s == nil {
		return "", fmt.Errorf("%s is required", name)
	}
	return *s, nil
}

func boolParam(params map[string]interface{}, name string, def bool) (bool, error) {
	switch v := params[name].(type) {
	case nil:
		return def, nil
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("invalid %s: %w", name, err)
		}
		return b, nil
	default:
		return false, fmt.Errorf("invalid %s: unexpected type %T", name, v)
	}
}

func timeParam(params map[string]interface{}, name string) (*time.Time, error) {
	s := stringParam(params, name)
	if s == nil {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: %w", name, err)
	}
	return &t, nil
}

// stringsParam accepts a JSON array of strings or a comma separated string
func stringsParam(params map[string]interface{}, name string) ([]string, error) {
	switch v := params[name].(type) {
	case nil:
		return nil, nil
	case string:
		var out []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s: unexpected element type %T", name, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid %s: unexpected type %T", name, v)
	}
}
