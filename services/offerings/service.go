package offerings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"mlsplus/lib/scrapers/enroll"
	"mlsplus/lib/timezone"
	"mlsplus/services/offerings/db"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/offerings")

const upstreamNoResultsMarker = "No course sections found"

// Fetcher retrieves raw offerings markup for a course code.
// *enroll.Session implements it.
type Fetcher interface {
	Fetch(ctx context.Context, courseCode string) (string, error)
}

type Result struct {
	CourseCode  string           `json:"courseCode"`
	Sections    []enroll.Section `json:"sections"`
	LastUpdated int64            `json:"lastUpdated,omitempty"`
	NoResults   bool             `json:"noResults,omitempty"`
	// FromCache marks a result served from the fallback store after
	// the live fetch failed
	FromCache bool `json:"fromCache,omitempty"`
}

type Service struct {
	db      *sql.DB
	qry     *db.Queries
	session Fetcher
	cache   *expirable.LRU[string, Result]
}

func NewService(database *sql.DB, session Fetcher) Service {
	return Service{
		db:      database,
		qry:     db.New(database),
		session: session,
		cache:   expirable.NewLRU[string, Result](512, nil, time.Minute),
	}
}

// GetOfferings looks up the current section list for a course code,
// scraping the live site and falling back to the persisted copy when
// the site is unreachable.
func (s Service) GetOfferings(ctx context.Context, courseCode string) (Result, error) {
	ctx, span := tracer.Start(ctx, "GetOfferings")
	defer span.End()

	courseCode = strings.ToUpper(strings.TrimSpace(courseCode))
	span.SetAttributes(attribute.String("course_code", courseCode))

	if cached, hit := s.cache.Get(courseCode); hit {
		return cached, nil
	}

	markup, err := s.session.Fetch(ctx, courseCode)
	if err != nil {
		slog.WarnContext(ctx, "live fetch failed, falling back to store",
			"course_code", courseCode, "err", err)
		span.RecordError(err)
		return s.fromStore(ctx, courseCode, err)
	}

	if strings.Contains(markup, upstreamNoResultsMarker) {
		return Result{CourseCode: courseCode, NoResults: true}, nil
	}

	sections := enroll.ReduceOfferings(markup, courseCode)
	if len(sections) == 0 {
		// a page that parsed down to nothing is indistinguishable from
		// a half-broken response, prefer the persisted copy
		slog.InfoContext(ctx, "live page yielded no sections, falling back to store",
			"course_code", courseCode)
		return s.fromStore(ctx, courseCode, nil)
	}

	result := Result{
		CourseCode:  courseCode,
		Sections:    sections,
		LastUpdated: timezone.Now().Unix(),
	}
	if err := s.persist(ctx, result); err != nil {
		// serving the live data matters more than remembering it
		slog.WarnContext(ctx, "failed to persist offerings",
			"course_code", courseCode, "err", err)
		span.RecordError(err)
	}

	s.cache.Add(courseCode, result)
	return result, nil
}

func (s Service) persist(ctx context.Context, result Result) error {
	encoded, err := json.Marshal(result.Sections)
	if err != nil {
		return err
	}
	return s.qry.UpsertCourseOffering(ctx, db.UpsertCourseOfferingParams{
		CourseCode:  result.CourseCode,
		Sections:    string(encoded),
		LastUpdated: result.LastUpdated,
	})
}

func (s Service) fromStore(ctx context.Context, courseCode string, fetchErr error) (Result, error) {
	ctx, span := tracer.Start(ctx, "fromStore")
	defer span.End()

	row, err := s.qry.GetCourseOffering(ctx, courseCode)
	if errors.Is(err, sql.ErrNoRows) {
		if fetchErr != nil {
			span.SetStatus(codes.Error, "fetch failed and store is empty")
			return Result{}, fetchErr
		}
		return Result{CourseCode: courseCode, NoResults: true}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store lookup failed")
		return Result{}, err
	}

	var sections []enroll.Section
	err = json.Unmarshal([]byte(row.Sections), &sections)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stored sections unparsable")
		return Result{}, err
	}

	return Result{
		CourseCode:  row.CourseCode,
		Sections:    sections,
		LastUpdated: row.LastUpdated,
		FromCache:   true,
	}, nil
}
