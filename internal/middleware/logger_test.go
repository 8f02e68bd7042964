package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogger(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		status    int
		body      string
		wantSize  int
	}{
		{name: "implicit ok", status: 0, body: "hello", wantSize: 5},
		{name: "explicit status", status: http.StatusConflict, body: `{"error":"x"}`, wantSize: 13},
		{name: "no body", status: http.StatusNoContent, wantSize: 0},
		{name: "propagates request id", requestID: "req-42", status: http.StatusOK, body: "ok", wantSize: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.InfoLevel)
			logger := zap.New(core)

			var seenID string
			h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seenID = r.Header.Get(RequestIDHeader)
				if tt.status != 0 {
					w.WriteHeader(tt.status)
				}
				if tt.body != "" {
					_, _ = w.Write([]byte(tt.body))
				}
			}))

			req := httptest.NewRequest(http.MethodPost, "/lotteries/draw/1", nil)
			if tt.requestID != "" {
				req.Header.Set(RequestIDHeader, tt.requestID)
			}
			w := httptest.NewRecorder()

			h.ServeHTTP(w, req)

			respID := w.Header().Get(RequestIDHeader)
			assert.Equal(t, seenID, respID)
			if tt.requestID != "" {
				assert.Equal(t, tt.requestID, respID)
			} else {
				_, err := uuid.Parse(respID)
				assert.NoError(t, err)
			}

			wantStatus := tt.status
			if wantStatus == 0 {
				wantStatus = http.StatusOK
			}

			require.Equal(t, 1, logs.Len())
			fields := logs.All()[0].ContextMap()
			assert.Equal(t, http.MethodPost, fields["method"])
			assert.Equal(t, "/lotteries/draw/1", fields["uri"])
			assert.EqualValues(t, wantStatus, fields["status"])
			assert.EqualValues(t, tt.wantSize, fields["size"])
			assert.Equal(t, respID, fields["requestID"])
		})
	}
}
