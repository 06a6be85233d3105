package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusNotFound, KindNotFound},
		{http.StatusTooManyRequests, KindThrottled},
		{http.StatusBadRequest, KindServer},
		{http.StatusInternalServerError, KindServer},
		{http.StatusBadGateway, KindServer},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FromStatus(tt.status), "status %d", tt.status)
	}
}

func TestIsCancelled(t *testing.T) {
	assert.True(t, IsCancelled(Cancelled(ServiceGitHub)))
	assert.True(t, IsCancelled(context.Canceled))
	assert.True(t, IsCancelled(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.False(t, IsCancelled(New(ServiceGitHub, KindAuth, "denied")))
	assert.False(t, IsCancelled(errors.New("other")))
}

func TestClassifyTransport(t *testing.T) {
	assert.Equal(t, KindCancelled, ClassifyTransport(context.Canceled))
	assert.Equal(t, KindUnavailable, ClassifyTransport(&net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}))
	assert.Equal(t, KindUnavailable, ClassifyTransport(&net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}))
	assert.Equal(t, KindUnavailable, ClassifyTransport(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)))
	assert.Equal(t, KindInternal, ClassifyTransport(errors.New("other failure")))
}

func TestErrorRendering(t *testing.T) {
	withStatus := &Error{Service: ServiceAzureDevOps, Kind: KindAuth, Message: "denied", Status: 401}
	assert.Equal(t, "Azure DevOps: denied (status 401)", withStatus.Error())

	withoutStatus := New(ServiceStackOverflow, KindUnavailable, "unreachable")
	assert.Equal(t, "Stack Overflow: unreachable", withoutStatus.Error())
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	wrapped := Wrap(ServiceGitHub, KindServer, "failed", inner)
	assert.True(t, errors.Is(wrapped, inner))

	var ue *Error
	assert.True(t, errors.As(fmt.Errorf("outer: %w", wrapped), &ue))
	assert.Equal(t, ServiceGitHub, ue.Service)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindAuth, KindOf(New(ServiceGitHub, KindAuth, "x")))
	assert.Equal(t, KindCancelled, KindOf(context.Canceled))
	assert.Equal(t, KindInternal, KindOf(errors.New("y")))
}
