package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/med-connect/prescriber-cli/internal/match"
)

// stubSearcher returns a canned response or error.
type stubSearcher struct {
	resp *match.Response
	err  error
	got  match.Request
}

func (s *stubSearcher) Search(ctx context.Context, req match.Request) (*match.Response, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func doSearch(t *testing.T, stub *stubSearcher, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := newRouter(stub)
	req := httptest.NewRequest(http.MethodPost, "/api/prescribers/search", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	router := newRouter(&stubSearcher{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestSearchEndpoint_Success(t *testing.T) {
	stub := &stubSearcher{
		resp: &match.Response{
			Results: []match.Result{{
				NPI:                "1111111111",
				PrescriberName:     "Jane Doe",
				Credentials:        "MD",
				Address:            "100 Main St, Chicago, IL",
				Zipcode:            "60602",
				MatchedMedications: []string{"Lisinopril"},
				TotalClaims:        20,
				ConfidenceScore:    50,
				Distance:           4.3,
			}},
		},
	}

	rec := doSearch(t, stub, `{"medicationNames":["Lipitor"],"zipcode":"60601","radius":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// The handler passes the decoded request through untouched.
	assert.Equal(t, []string{"Lipitor"}, stub.got.MedicationNames)
	assert.Equal(t, "60601", stub.got.Zip)
	assert.Equal(t, 10.0, stub.got.RadiusMiles)

	var resp match.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "1111111111", resp.Results[0].NPI)
	assert.Equal(t, 4.3, resp.Results[0].Distance)
}

func TestSearchEndpoint_EmptyResults(t *testing.T) {
	stub := &stubSearcher{
		resp: &match.Response{Results: []match.Result{}, Message: "no prescribers found"},
	}

	rec := doSearch(t, stub, `{"medicationNames":["Lipitor"],"zipcode":"60601","radius":10}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "no prescribers found")
}

func TestSearchEndpoint_BadJSON(t *testing.T) {
	rec := doSearch(t, &stubSearcher{}, `{"medicationNames": [`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestSearchEndpoint_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{
			"validation",
			&match.Error{Kind: match.KindValidation, Field: "zipcode", Message: "zip code must be exactly 5 digits"},
			http.StatusBadRequest,
			"5 digits",
		},
		{
			"not found",
			&match.Error{Kind: match.KindNotFound, Message: "no location data for zipcode 00000"},
			http.StatusNotFound,
			"00000",
		},
		{
			"data integrity",
			&match.Error{Kind: match.KindDataIntegrity, Message: "location data for zipcode 60601 is invalid"},
			http.StatusUnprocessableEntity,
			"invalid",
		},
		{
			"store",
			&match.Error{Kind: match.KindStore, Message: "search failed, try again"},
			http.StatusBadGateway,
			"search failed, try again",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doSearch(t, &stubSearcher{err: tt.err},
				`{"medicationNames":["Lipitor"],"zipcode":"60601","radius":10}`)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestSearchEndpoint_StoreErrorHidesDetail(t *testing.T) {
	err := &match.Error{Kind: match.KindStore, Message: "search failed, try again"}
	rec := doSearch(t, &stubSearcher{err: err},
		`{"medicationNames":["Lipitor"],"zipcode":"60601","radius":10}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pgx")
	assert.NotContains(t, rec.Body.String(), "connection")
}
