// Package errors maps errors onto short, low-cardinality classes for metric tags.
package errors

import (
	"context"
	goerrors "errors"
	"net"
	"reflect"
	"strings"

	domainauth "github.com/target/learnhub/internal/domain/auth"
)

// Classify returns a tag-safe class for err. Auth errors use their kind;
// timeouts, cancellations and network failures get fixed names; anything else
// is named after its innermost concrete type.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	if kind := domainauth.KindOf(err); kind != "" {
		return string(kind)
	}
	switch {
	case goerrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	}
	var netErr net.Error
	if goerrors.As(err, &netErr) {
		return "network"
	}
	return typeName(err)
}

func typeName(err error) string {
	for {
		inner := goerrors.Unwrap(err)
		if inner == nil {
			break
		}
		err = inner
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.ReplaceAll(strings.ToLower(t.String()), ".", "_")
	if name == "" {
		return "unknown"
	}
	return name
}
