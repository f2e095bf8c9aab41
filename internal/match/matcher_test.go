package match

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/med-connect/prescriber-cli/internal/alias"
	"github.com/med-connect/prescriber-cli/internal/claims"
)

// fakeStore implements Store with canned data and call counters.
type fakeStore struct {
	geocode     *claims.Geocode
	geocodeErr  error
	byPattern   map[string][]claims.CandidateRow
	fetchErr    error
	logErr      error
	resolveZips int
	fetches     int
	logged      []claims.SearchLog
}

func (f *fakeStore) ResolveZip(ctx context.Context, zip string) (*claims.Geocode, error) {
	f.resolveZips++
	if f.geocodeErr != nil {
		return nil, f.geocodeErr
	}
	return f.geocode, nil
}

func (f *fakeStore) FetchCandidates(ctx context.Context, pattern string) ([]claims.CandidateRow, error) {
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.byPattern[pattern], nil
}

func (f *fakeStore) LogSearch(ctx context.Context, entry claims.SearchLog) error {
	if f.logErr != nil {
		return f.logErr
	}
	f.logged = append(f.logged, entry)
	return nil
}

const (
	originLat = 41.8858
	originLon = -87.6229
)

// milesNorth returns a latitude offset north of originLat by the given
// distance, so haversine distances in tests come out exact.
func milesNorth(miles float64) float64 {
	return originLat + miles/earthRadiusMiles*180/math.Pi
}

func testResolver(t *testing.T) *alias.Resolver {
	t.Helper()
	r, err := alias.NewResolver([]alias.Entry{
		{CanonicalName: "Lisinopril", BrandNames: []string{"Prinivil", "Zestril"}},
		{CanonicalName: "Metformin", BrandNames: []string{"Glucophage"}},
		{CanonicalName: "Atorvastatin Calcium", BrandNames: []string{"Lipitor"}},
	})
	require.NoError(t, err)
	return r
}

func candidateRow(npi, drug string, count int64, lat float64) claims.CandidateRow {
	return claims.CandidateRow{
		NPI:          npi,
		FirstName:    "Jane",
		LastName:     "Doe",
		Credentials:  "M.D.",
		AddressLine1: "100 Main St",
		City:         "Chicago",
		State:        "IL",
		Zip:          "60602",
		DrugName:     drug,
		ClaimCount:   count,
		Latitude:     lat,
		Longitude:    originLon,
	}
}

func TestSearch_Validation(t *testing.T) {
	store := &fakeStore{geocode: &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon}}
	engine := NewEngine(testResolver(t), store)

	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"empty medications", Request{Zip: "60601", RadiusMiles: 10}, "medicationNames"},
		{"blank medications", Request{MedicationNames: []string{"", " "}, Zip: "60601", RadiusMiles: 10}, "medicationNames"},
		{"short zip", Request{MedicationNames: []string{"Lipitor"}, Zip: "606", RadiusMiles: 10}, "zipcode"},
		{"non-numeric zip", Request{MedicationNames: []string{"Lipitor"}, Zip: "6o601", RadiusMiles: 10}, "zipcode"},
		{"zero radius", Request{MedicationNames: []string{"Lipitor"}, Zip: "60601", RadiusMiles: 0}, "radius"},
		{"negative radius", Request{MedicationNames: []string{"Lipitor"}, Zip: "60601", RadiusMiles: -5}, "radius"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Search(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, IsValidation(err))

			var e *Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.field, e.Field)
		})
	}

	// Validation failures never reach the store.
	assert.Zero(t, store.resolveZips)
	assert.Zero(t, store.fetches)
}

func TestSearch_ZipNotFound(t *testing.T) {
	store := &fakeStore{geocodeErr: eris.Wrap(claims.ErrZipNotFound, "zip 00000")}
	engine := NewEngine(testResolver(t), store)

	_, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lipitor"}, Zip: "00000", RadiusMiles: 10,
	})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "00000")
	assert.Zero(t, store.fetches)
}

func TestSearch_BadCoordinates(t *testing.T) {
	store := &fakeStore{geocodeErr: eris.Wrap(claims.ErrBadCoordinates, "zip 60601")}
	engine := NewEngine(testResolver(t), store)

	_, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lipitor"}, Zip: "60601", RadiusMiles: 10,
	})
	require.Error(t, err)
	assert.True(t, IsDataIntegrity(err))
	assert.False(t, IsNotFound(err))
}

func TestSearch_StoreFailure(t *testing.T) {
	store := &fakeStore{
		geocode:  &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon},
		fetchErr: eris.New("connection refused"),
	}
	engine := NewEngine(testResolver(t), store)

	_, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lipitor"}, Zip: "60601", RadiusMiles: 10,
	})
	require.Error(t, err)
	assert.True(t, IsStore(err))
	// Users get the generic message, not the cause.
	assert.Contains(t, err.Error(), "search failed")
	assert.NotContains(t, err.Error(), "connection refused")
}

func TestSearch_EndToEnd(t *testing.T) {
	store := &fakeStore{
		geocode: &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon},
		byPattern: map[string][]claims.CandidateRow{
			"Lisinopril": {
				candidateRow("1111111111", "Lisinopril", 8, milesNorth(4.3)),
				candidateRow("2222222222", "Lisinopril 10mg", 30, milesNorth(2.0)),
			},
			"Metformin": {
				candidateRow("1111111111", "Metformin HCl", 12, milesNorth(4.3)),
			},
		},
	}
	engine := NewEngine(testResolver(t), store)

	resp, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lisinopril", "Metformin"},
		Zip:             "60601",
		RadiusMiles:     10,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	r := resp.Results[0]
	assert.Equal(t, "1111111111", r.NPI)
	assert.Equal(t, "Jane Doe", r.PrescriberName)
	assert.Equal(t, "MD", r.Credentials)
	assert.Equal(t, "100 Main St, Chicago, IL", r.Address)
	assert.Equal(t, "60602", r.Zipcode)
	assert.Equal(t, []string{"Lisinopril", "Metformin"}, r.MatchedMedications)
	assert.Equal(t, int64(20), r.TotalClaims)
	assert.Equal(t, 50.0, r.ConfidenceScore)
	assert.Equal(t, 4.3, r.Distance)
	assert.Empty(t, resp.Message)
}

func TestSearch_AllMatchInvariant(t *testing.T) {
	// Two differently-worded rows for the same requested medication count
	// once, so a prescriber matching only Lisinopril variants is excluded
	// from a two-medication request.
	store := &fakeStore{
		geocode: &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon},
		byPattern: map[string][]claims.CandidateRow{
			"Lisinopril": {
				candidateRow("3333333333", "Lisinopril 10mg", 5, milesNorth(1.0)),
				candidateRow("3333333333", "Lisinopril 20mg", 7, milesNorth(1.0)),
			},
			"Metformin": {},
		},
	}
	engine := NewEngine(testResolver(t), store)

	resp, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Prinivil", "Glucophage"},
		Zip:             "60601",
		RadiusMiles:     10,
	})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Contains(t, resp.Message, "no prescribers found")
}

func TestSearch_MatchedMedicationsExactCount(t *testing.T) {
	store := &fakeStore{
		geocode: &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon},
		byPattern: map[string][]claims.CandidateRow{
			"Lisinopril": {
				candidateRow("4444444444", "Lisinopril 10mg", 3, milesNorth(1.0)),
				candidateRow("4444444444", "Lisinopril 20mg", 4, milesNorth(1.0)),
			},
			"Metformin": {
				candidateRow("4444444444", "Metformin ER", 5, milesNorth(1.0)),
			},
		},
	}
	engine := NewEngine(testResolver(t), store)

	resp, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lisinopril", "Metformin"},
		Zip:             "60601",
		RadiusMiles:     10,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	// Exactly one matched entry per requested medication, duplicates folded.
	assert.Equal(t, []string{"Lisinopril", "Metformin"}, resp.Results[0].MatchedMedications)
	assert.Equal(t, int64(12), resp.Results[0].TotalClaims)
}

func TestSearch_RadiusBoundary(t *testing.T) {
	store := &fakeStore{
		geocode: &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon},
		byPattern: map[string][]claims.CandidateRow{
			"Lisinopril": {
				candidateRow("5555555555", "Lisinopril", 5, milesNorth(5.0)),
				candidateRow("6666666666", "Lisinopril", 5, milesNorth(5.1)),
			},
		},
	}
	engine := NewEngine(testResolver(t), store)

	resp, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lisinopril"},
		Zip:             "60601",
		RadiusMiles:     5.0,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "5555555555", resp.Results[0].NPI)
	assert.Equal(t, 5.0, resp.Results[0].Distance)
}

func TestSearch_ConfidenceClamp(t *testing.T) {
	store := &fakeStore{
		geocode: &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon},
		byPattern: map[string][]claims.CandidateRow{
			"Lisinopril": {
				candidateRow("7777777777", "Lisinopril", 50, milesNorth(1.0)),
				candidateRow("8888888888", "Lisinopril", 10, milesNorth(2.0)),
			},
		},
	}
	engine := NewEngine(testResolver(t), store)

	resp, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lisinopril"}, Zip: "60601", RadiusMiles: 10,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 100.0, resp.Results[0].ConfidenceScore) // clamped, not 125
	assert.Equal(t, 25.0, resp.Results[1].ConfidenceScore)
}

func TestSearch_SortsByDistance(t *testing.T) {
	store := &fakeStore{
		geocode: &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon},
		byPattern: map[string][]claims.CandidateRow{
			"Lisinopril": {
				candidateRow("1000000001", "Lisinopril", 5, milesNorth(5.2)),
				candidateRow("1000000002", "Lisinopril", 5, milesNorth(1.1)),
				candidateRow("1000000003", "Lisinopril", 5, milesNorth(3.0)),
			},
		},
	}
	engine := NewEngine(testResolver(t), store)

	resp, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lisinopril"}, Zip: "60601", RadiusMiles: 10,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	var distances []float64
	for _, r := range resp.Results {
		distances = append(distances, r.Distance)
	}
	assert.Equal(t, []float64{1.1, 3.0, 5.2}, distances)
}

func TestSearch_ResultCap(t *testing.T) {
	rows := make([]claims.CandidateRow, 0, 5)
	for i := 0; i < 5; i++ {
		rows = append(rows, candidateRow(fmt.Sprintf("90000000%02d", i), "Lisinopril", 5, milesNorth(float64(i)+1)))
	}
	store := &fakeStore{
		geocode:   &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon},
		byPattern: map[string][]claims.CandidateRow{"Lisinopril": rows},
	}
	engine := NewEngine(testResolver(t), store, WithMaxResults(2))

	resp, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lisinopril"}, Zip: "60601", RadiusMiles: 50,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	// The cap keeps the closest prescribers.
	assert.Equal(t, 1.0, resp.Results[0].Distance)
	assert.Equal(t, 2.0, resp.Results[1].Distance)
}

func TestSearch_LogsCompletedSearches(t *testing.T) {
	store := &fakeStore{
		geocode:   &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon},
		byPattern: map[string][]claims.CandidateRow{},
	}
	engine := NewEngine(testResolver(t), store)

	_, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lipitor"}, Zip: "60601", RadiusMiles: 10,
	})
	require.NoError(t, err)

	require.Len(t, store.logged, 1)
	assert.Equal(t, []string{"Atorvastatin Calcium"}, store.logged[0].Medications)
	assert.Equal(t, "60601", store.logged[0].Zip)
	assert.Equal(t, 0, store.logged[0].ResultCount)
}

func TestSearch_LogFailureIsNotFatal(t *testing.T) {
	store := &fakeStore{
		geocode:   &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon},
		byPattern: map[string][]claims.CandidateRow{},
		logErr:    eris.New("log table missing"),
	}
	engine := NewEngine(testResolver(t), store)

	resp, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lipitor"}, Zip: "60601", RadiusMiles: 10,
	})
	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestSearch_ResolvesBrandNamesBeforeFetch(t *testing.T) {
	store := &fakeStore{
		geocode: &claims.Geocode{Zip: "60601", Latitude: originLat, Longitude: originLon},
		byPattern: map[string][]claims.CandidateRow{
			"Atorvastatin Calcium": {
				candidateRow("1212121212", "Atorvastatin Calcium 20mg", 6, milesNorth(1.0)),
			},
		},
	}
	engine := NewEngine(testResolver(t), store)

	// "Lipitor" and "lipitor" collapse to one canonical name: one fetch.
	resp, err := engine.Search(context.Background(), Request{
		MedicationNames: []string{"Lipitor", "lipitor"}, Zip: "60601", RadiusMiles: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, store.fetches)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, []string{"Atorvastatin Calcium"}, resp.Results[0].MatchedMedications)
}
