package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	ierr "gatepass/internal/errors"
	"gatepass/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func contextWithQuery(query string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return c
}

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  Params
	}{
		{"defaults", "", Params{Page: DefaultPage, Limit: DefaultLimit}},
		{"explicit", "page=3&limit=5", Params{Page: 3, Limit: 5}},
		{"capped", "limit=500", Params{Page: DefaultPage, Limit: MaxLimit}},
		{"empty values", "page=&limit=", Params{Page: DefaultPage, Limit: DefaultLimit}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(contextWithQuery(tt.query))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRejects(t *testing.T) {
	for _, query := range []string{"page=0", "page=-2", "limit=abc", "page=1.5"} {
		_, err := Parse(contextWithQuery(query))
		assert.True(t, ierr.IsValidation(err), query)
	}
}

func TestEnvelope(t *testing.T) {
	res := Params{Page: 2, Limit: 10}.Envelope([]string{"a"}, 11)
	assert.Equal(t, "success", res.Status)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int64(11), res.Data.(response.PagedData).Total)
}
