package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// LambdaHandler adapts handler to API Gateway v2 HTTP events.
func LambdaHandler(handler http.Handler, logger *slog.Logger) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(ctx context.Context, request events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		req, err := newLambdaRequest(ctx, request)
		if err != nil {
			logger.Error("failed to create request", "error", err)
			return events.APIGatewayV2HTTPResponse{
				StatusCode: http.StatusBadRequest,
				Body:       "Bad request",
			}, nil
		}

		rw := &lambdaResponseWriter{headers: make(http.Header)}
		handler.ServeHTTP(rw, req)

		headers := make(map[string]string, len(rw.headers))
		for k, v := range rw.headers {
			headers[k] = strings.Join(v, ", ")
		}
		if rw.statusCode == 0 {
			rw.statusCode = http.StatusOK
		}

		return events.APIGatewayV2HTTPResponse{
			StatusCode: rw.statusCode,
			Headers:    headers,
			Body:       rw.body.String(),
		}, nil
	}
}

func newLambdaRequest(ctx context.Context, request events.APIGatewayV2HTTPRequest) (*http.Request, error) {
	body := []byte(request.Body)
	if request.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(request.Body)
		if err != nil {
			return nil, err
		}
		body = decoded
	}

	target := request.RawPath
	if request.RawQueryString != "" {
		target += "?" + request.RawQueryString
	}
	req, err := http.NewRequestWithContext(ctx, request.RequestContext.HTTP.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for k, v := range request.Headers {
		req.Header.Set(k, v)
	}
	req.ContentLength = int64(len(body))
	req.RemoteAddr = request.RequestContext.HTTP.SourceIP
	return req, nil
}

// lambdaResponseWriter buffers a response for API Gateway.
type lambdaResponseWriter struct {
	headers    http.Header
	body       bytes.Buffer
	statusCode int
}

func (w *lambdaResponseWriter) Header() http.Header {
	return w.headers
}

func (w *lambdaResponseWriter) Write(b []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	return w.body.Write(b)
}

func (w *lambdaResponseWriter) WriteHeader(statusCode int) {
	if w.statusCode == 0 {
		w.statusCode = statusCode
	}
}
