package handler_test

import (
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"taxtrail/internal/ratelimit/handler"
	"taxtrail/internal/ratelimit/models"
	"taxtrail/internal/ratelimit/service"
	"taxtrail/internal/ratelimit/store/ledger"
	"taxtrail/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	limiter, err := service.New(ledger.NewInMemoryLedgerStore(),
		service.WithBudgets(map[models.Action]models.Budget{
			models.ActionDataExport: {MaxRequests: 2, Window: time.Hour},
		}))
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	handler.New(limiter, slog.New(slog.DiscardHandler)).Register(s.router)
}

func (s *HandlerSuite) TestHandleCheck() {
	s.Run("reports the decision for the caller", func() {
		req := testutil.AsMember(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/ratelimit/check",
			handler.CheckRequest{Action: "data_export"}), "user-1")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		result := testutil.UnmarshalResponse[models.RateLimitResult](s.T(), rr)
		s.True(result.Allowed)
		s.Equal(2, result.Limit)
		s.Equal(1, result.Remaining)
	})

	s.Run("reports a blocked decision once the budget is spent", func() {
		req := func() *http.Request {
			return testutil.AsMember(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/ratelimit/check",
				handler.CheckRequest{Action: "data_export"}), "user-2")
		}
		testutil.DoRequest(s.router, req())
		testutil.DoRequest(s.router, req())
		rr := testutil.DoRequest(s.router, req())

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		result := testutil.UnmarshalResponse[models.RateLimitResult](s.T(), rr)
		s.False(result.Allowed)
		s.Positive(result.RetryAfter)
	})

	s.Run("rejects unauthenticated callers", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/ratelimit/check",
			handler.CheckRequest{Action: "data_export"})
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
		testutil.AssertErrorCode(s.T(), rr, "unauthorized")
	})

	s.Run("rejects an unknown action", func() {
		req := testutil.AsMember(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/ratelimit/check",
			handler.CheckRequest{Action: "teleport"}), "user-3")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
		testutil.AssertErrorCode(s.T(), rr, "invalid_input")
	})

	s.Run("rejects a malformed body", func() {
		req := testutil.AsMember(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/ratelimit/check", nil), "user-4")
		req.Body = http.NoBody
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
	})

	s.Run("non-admin cannot check another subject", func() {
		req := testutil.AsMember(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/ratelimit/check",
			handler.CheckRequest{Action: "data_export", Subject: "someone-else"}), "user-5")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})

	s.Run("admin can check another subject", func() {
		req := testutil.AsAdmin(testutil.NewJSONRequest(s.T(), http.MethodPost, "/v1/ratelimit/check",
			handler.CheckRequest{Action: "data_export", Subject: "user-6"}), "admin-1")
		rr := testutil.DoRequest(s.router, req)

		testutil.AssertStatus(s.T(), rr, http.StatusOK)
		result := testutil.UnmarshalResponse[models.RateLimitResult](s.T(), rr)
		s.True(result.Allowed)
	})
}
