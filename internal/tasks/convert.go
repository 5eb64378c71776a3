package tasks

import (
	"encoding/json"
	"maps"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/collectx/internal/models"
)

// fieldTypes maps payload keys to the column type used when the field has to be created.
// Counters are text so values like "1.2w" survive unchanged.
var fieldTypes = map[string]models.FieldType{
	"videoUrl":  models.FieldURL,
	"video_url": models.FieldURL,
	"share_url": models.FieldURL,
	"cover":     models.FieldURL,
	"cover_url": models.FieldURL,

	"createTime":            models.FieldDate,
	"create_time":           models.FieldDate,
	"create_time_formatted": models.FieldDate,

	"description":   models.FieldLongText,
	"transcription": models.FieldLongText,

	"is_fallback": models.FieldBoolean,
}

// FieldTypeFor returns the column type for a payload key. Unlisted keys are text.
func FieldTypeFor(key string) models.FieldType {
	if t, ok := fieldTypes[key]; ok {
		return t
	}
	return models.FieldText
}

// DefaultLabels maps collected payload keys to the column labels used in the product's tables.
var DefaultLabels = map[string]string{
	"title":                 "标题",
	"aweme_id":              "视频ID",
	"share_url":             "视频链接",
	"author_nickname":       "作者昵称",
	"author_id":             "作者ID",
	"create_time_formatted": "发布时间",
	"create_time":           "发布时间戳",
	"digg_count":            "点赞数",
	"comment_count":         "评论数",
	"share_count":           "分享数",
	"duration":              "视频时长",
	"play_count":            "播放量",
	"video_url":             "视频播放链接",
	"cover_url":             "视频封面链接",
	"transcription":         "视频转写内容",
}

// TranscriptionLabels is the label set written back by transcription updates.
var TranscriptionLabels = map[string]string{
	"transcription": DefaultLabels["transcription"],
}

// Labels returns DefaultLabels restricted to keys. Keys without a default label use the key itself.
func Labels(keys ...string) map[string]string {
	if len(keys) == 0 {
		return maps.Clone(DefaultLabels)
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if label, ok := DefaultLabels[k]; ok {
			out[k] = label
		} else {
			out[k] = k
		}
	}
	return out
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006-01-02",
	"2006/01/02",
}

// converter turns payload values into the store's native value forms.
type converter struct {
	now func() time.Time
	loc *time.Location
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// Convert returns v in the native form of typ, or the type's default when v is empty.
func (c converter) Convert(v any, typ models.FieldType) any {
	if isEmpty(v) {
		return c.Default(typ)
	}
	switch typ {
	case models.FieldNumber:
		return toNumber(v)
	case models.FieldDate:
		return c.toDate(v)
	case models.FieldBoolean:
		return toBool(v)
	case models.FieldURL:
		s := toText(v)
		if !strings.HasPrefix(s, "http") {
			s = "https://" + s
		}
		return s
	default:
		return toText(v)
	}
}

// Default is the value written for an empty input.
func (c converter) Default(typ models.FieldType) any {
	switch typ {
	case models.FieldNumber:
		return float64(0)
	case models.FieldDate:
		return c.now().UnixMilli()
	case models.FieldBoolean:
		return false
	default:
		return ""
	}
}

func toText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// toNumber keeps digits and dots of strings and rounds to an integer value. Unparseable input is 0.
func toNumber(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case bool:
		if t {
			f = 1
		}
	case string:
		digits := strings.Map(func(r rune) rune {
			if (r >= '0' && r <= '9') || r == '.' {
				return r
			}
			return -1
		}, t)
		parsed, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return math.Round(f)
}

// maxEpochMillis is the last millisecond of year 9999.
const maxEpochMillis = 253402300799999

// toDate returns unix milliseconds. Numbers below 1e12 are read as seconds; anything unparseable or out of
// range is now.
func (c converter) toDate(v any) int64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case time.Time:
		return t.UnixMilli()
	case string:
		s := strings.TrimSpace(t)
		parsed, err := strconv.ParseFloat(s, 64)
		if err == nil {
			f = parsed
			break
		}
		for _, layout := range dateLayouts {
			if ts, err := time.ParseInLocation(layout, s, c.loc); err == nil {
				return ts.UnixMilli()
			}
		}
		return c.now().UnixMilli()
	default:
		return c.now().UnixMilli()
	}

	if ms, ok := epochMillis(f); ok {
		return ms
	}
	return c.now().UnixMilli()
}

func epochMillis(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if f < 1e12 {
		f *= 1000
	}
	if math.Abs(f) > maxEpochMillis {
		return 0, false
	}
	return int64(f), true
}

func toBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "", "0", "false", "no", "off":
			return false
		}
		return true
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return v != nil
	}
}
