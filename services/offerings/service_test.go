package offerings

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"mlsplus/lib/scrapers/enroll"
	"mlsplus/lib/sqliteutil"
	"mlsplus/lib/telemetry"
	"mlsplus/services/offerings/db"

	"github.com/stretchr/testify/require"
)

const testMarkup = `<html><body><TABLE border=1>
<TR><TD bgcolor="#D2EED3"><B>1234</B></TD><TD></TD><TD><B>S11</B></TD><TD>MH</TD><TD>0915-1045</TD><TD>GK304</TD><TD>45</TD><TD>12</TD><TD></TD></TR>
<TR><TD colspan="6">DELA CRUZ, JUAN</TD></TR>
</TABLE></body></html>`

type stubFetcher struct {
	markup string
	err    error
}

func (f stubFetcher) Fetch(context.Context, string) (string, error) {
	return f.markup, f.err
}

func setup(t testing.TB) *sql.DB {
	cleanup := telemetry.SetupForTesting(t, "test:services/offerings")
	t.Cleanup(cleanup)

	database, err := sqliteutil.OpenDB(db.Schema, sqliteutil.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestGetOfferingsLive(t *testing.T) {
	database := setup(t)
	service := NewService(database, stubFetcher{markup: testMarkup})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	result, err := service.GetOfferings(ctx, " csadprg ")
	require.NoError(t, err)
	require.Equal(t, "CSADPRG", result.CourseCode)
	require.False(t, result.FromCache)
	require.Len(t, result.Sections, 1)
	require.Equal(t, "1234", result.Sections[0].ClassNbr)
	require.Equal(t, "DELA CRUZ, JUAN", result.Sections[0].Professor)
	require.True(t, result.Sections[0].IsOpen)

	// the live result must have been persisted for later fallback
	row, err := db.New(database).GetCourseOffering(ctx, "CSADPRG")
	require.NoError(t, err)
	var stored []enroll.Section
	require.NoError(t, json.Unmarshal([]byte(row.Sections), &stored))
	require.Len(t, stored, 1)
	require.Equal(t, "1234", stored[0].ClassNbr)
}

func TestGetOfferingsFallback(t *testing.T) {
	database := setup(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	// first service run scrapes fine and persists
	live := NewService(database, stubFetcher{markup: testMarkup})
	_, err := live.GetOfferings(ctx, "CSADPRG")
	require.NoError(t, err)

	// second service run can no longer reach the site
	broken := NewService(database, stubFetcher{
		err: fmt.Errorf("%w: connection reset", enroll.ErrFetchExhausted),
	})
	result, err := broken.GetOfferings(ctx, "CSADPRG")
	require.NoError(t, err)
	require.True(t, result.FromCache)
	require.Len(t, result.Sections, 1)
	require.Equal(t, "1234", result.Sections[0].ClassNbr)
}

func TestGetOfferingsNoResults(t *testing.T) {
	database := setup(t)
	service := NewService(database, stubFetcher{
		markup: "<html><body>No course sections found</body></html>",
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	result, err := service.GetOfferings(ctx, "FAKE101")
	require.NoError(t, err)
	require.True(t, result.NoResults)
	require.Empty(t, result.Sections)

	// nothing should have been persisted
	_, err = db.New(database).GetCourseOffering(ctx, "FAKE101")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestGetOfferingsTotalFailure(t *testing.T) {
	database := setup(t)
	service := NewService(database, stubFetcher{
		err: fmt.Errorf("%w: connection reset", enroll.ErrFetchExhausted),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	_, err := service.GetOfferings(ctx, "UNKNOWN")
	require.ErrorIs(t, err, enroll.ErrFetchExhausted)
}

func TestSearchEndpoint(t *testing.T) {
	database := setup(t)
	service := NewService(database, stubFetcher{markup: testMarkup})

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)

	{
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/search", nil))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	}
	{
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/search?course=csadprg", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var result Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.Equal(t, "CSADPRG", result.CourseCode)
		require.Len(t, result.Sections, 1)
	}
}

func TestSearchEndpointUpstreamDown(t *testing.T) {
	database := setup(t)
	service := NewService(database, stubFetcher{
		err: fmt.Errorf("%w: timeout", enroll.ErrFetchExhausted),
	})

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/api/search?course=CSADPRG", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
}
