package threeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecommend(t *testing.T) {
	tests := []struct {
		name   string
		score  int
		amount float64
		want   bool
	}{
		{"high score always escalates", 61, 10, true},
		{"score at cutoff does not", 60, 10, false},
		{"high amount always escalates", 5, 500.01, true},
		{"amount at cutoff does not", 5, 500, false},
		{"elevated score with elevated amount", 40, 200.01, true},
		{"elevated score with small amount", 40, 200, false},
		{"elevated amount with low score", 39, 300, false},
		{"low everything", 10, 50, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recommend(tt.score, tt.amount).Required)
		})
	}
}

func TestInitiateReturnsChallengeID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/challenges", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"challengeId": "ch_123"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second)
	id, err := c.Initiate(context.Background(), "txn_1", "411111", 320)
	require.NoError(t, err)
	assert.Equal(t, "ch_123", id)
}

func TestInitiateErrorsOnGatewayFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.Initiate(context.Background(), "txn_1", "", 100)
	assert.ErrorIs(t, err, ErrUnavailable)
}
