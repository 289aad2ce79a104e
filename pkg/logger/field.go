package logger

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field is a typed key/value attached to a log line.
type Field struct {
	Key   string
	Value interface{}
	kind  fieldKind
}

type fieldKind uint8

const (
	kindAny fieldKind = iota
	kindString
	kindInt
	kindInt64
	kindFloat
	kindBool
	kindTime
	kindError
)

func (f Field) addTo(e *zerolog.Event) {
	switch f.kind {
	case kindString:
		e.Str(f.Key, f.Value.(string))
	case kindInt:
		e.Int(f.Key, f.Value.(int))
	case kindInt64:
		e.Int64(f.Key, f.Value.(int64))
	case kindFloat:
		e.Float64(f.Key, f.Value.(float64))
	case kindBool:
		e.Bool(f.Key, f.Value.(bool))
	case kindTime:
		e.Time(f.Key, f.Value.(time.Time))
	case kindError:
		if err, _ := f.Value.(error); err != nil {
			e.Err(err)
		}
	default:
		e.Interface(f.Key, f.Value)
	}
}

// plain returns a JSON-friendly value for the collector.
func (f Field) plain() interface{} {
	if f.kind == kindError {
		if err, _ := f.Value.(error); err != nil {
			return err.Error()
		}
		return nil
	}
	return f.Value
}

func String(key, value string) Field {
	return Field{Key: key, Value: value, kind: kindString}
}

func Int(key string, value int) Field {
	return Field{Key: key, Value: value, kind: kindInt}
}

func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value, kind: kindInt64}
}

func Float64(key string, value float64) Field {
	return Field{Key: key, Value: value, kind: kindFloat}
}

func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value, kind: kindBool}
}

func Time(key string, value time.Time) Field {
	return Field{Key: key, Value: value, kind: kindTime}
}

// Date logs a calendar date as YYYY-MM-DD.
func Date(key string, value time.Time) Field {
	return String(key, value.Format("2006-01-02"))
}

// Duration logs milliseconds.
func Duration(key string, value time.Duration) Field {
	return Int64(key, value.Milliseconds())
}

func Strings(key string, value []string) Field {
	return String(key, strings.Join(value, ", "))
}

func Error(err error) Field {
	return Field{Key: "error", Value: err, kind: kindError}
}

func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value, kind: kindAny}
}
