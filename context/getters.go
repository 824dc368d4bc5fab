package context

import (
	"context"

	"github.com/rs/zerolog"
)

// GetLogger - return the logger value from the context if it exists
func GetLogger(ctx context.Context) (*zerolog.Logger, error) {
	if logger := zerolog.Ctx(ctx); logger != nil && logger.GetLevel() != zerolog.Disabled {
		return logger, nil
	}
	return nil, ErrNotInContext
}

// GetStringFromContext - given a CTXKey return the string value from the context if it exists
func GetStringFromContext(ctx context.Context, key CTXKey) (string, error) {
	v := ctx.Value(key)
	if v == nil {
		return "", ErrNotInContext
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrValueWrongType
	}
	return s, nil
}

// GetBoolFromContext - given a CTXKey return the bool value from the context if it exists
func GetBoolFromContext(ctx context.Context, key CTXKey) (bool, error) {
	v := ctx.Value(key)
	if v == nil {
		return false, ErrNotInContext
	}
	b, ok := v.(bool)
	if !ok {
		return false, ErrValueWrongType
	}
	return b, nil
}

// GetLogLevelFromContext - given a CTXKey return the log level from the context if it exists.
// The value may be stored as a zerolog.Level or as a parseable level string.
func GetLogLevelFromContext(ctx context.Context, key CTXKey) (zerolog.Level, error) {
	v := ctx.Value(key)
	if v == nil {
		return zerolog.InfoLevel, ErrNotInContext
	}
	switch lvl := v.(type) {
	case zerolog.Level:
		return lvl, nil
	case string:
		parsed, err := zerolog.ParseLevel(lvl)
		if err != nil {
			return zerolog.InfoLevel, ErrValueWrongType
		}
		return parsed, nil
	}
	return zerolog.InfoLevel, ErrValueWrongType
}
