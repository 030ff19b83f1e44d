package enroll

import (
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"mlsplus/lib/scrapers/enroll/clearance"
	"mlsplus/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/codes"
)

// ErrUpstreamRejected means the site answered but refused to serve the
// offerings page, which in practice means the clearance credential is
// no longer trusted.
var ErrUpstreamRejected = fmt.Errorf("upstream rejected the request")

var fallbackUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
}

type ClientOptions struct {
	// e.g. https://enroll.dlsu.edu.ph/dlsu
	BaseUrl string
	// student id number the offerings form expects in p_id_no
	IdNumber string
}

type Client struct {
	BaseUrl  *url.URL
	Http     *resty.Client
	idNumber string
}

func NewClient(opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", pickFallbackUserAgent())
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/enroll/http")

	return &Client{
		BaseUrl:  baseUrl,
		Http:     client,
		idNumber: opts.IdNumber,
	}, nil
}

func pickFallbackUserAgent() string {
	idx, err := random.IntRange(0, len(fallbackUserAgents))
	if err != nil {
		return fallbackUserAgents[0]
	}
	return fallbackUserAgents[idx]
}

// FetchOfferings posts the offerings search form and returns the page
// trimmed down to the offerings table. The clearance credential rides
// along as a raw cookie header paired with the user agent the solving
// browser presented.
func (c *Client) FetchOfferings(ctx context.Context, courseCode string, cred clearance.Credentials) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchOfferings")
	defer span.End()

	form := url.Values{}
	form.Add("p_course_code", courseCode)
	form.Add("p_option", "all")
	form.Add("p_button", "Search")
	form.Add("p_id_no", c.idNumber)
	form.Add("p_button", "Submit")

	req := c.Http.R().
		SetContext(ctx).
		SetHeader("content-type", "application/x-www-form-urlencoded").
		SetHeader("origin", c.BaseUrl.Scheme+"://"+c.BaseUrl.Host).
		SetHeader("referer", c.BaseUrl.String()+"/view_course_offerings").
		SetBody(form.Encode())
	if cred.Cookie != "" {
		req.SetHeader("cookie", cred.Cookie)
	}
	if cred.UserAgent != "" {
		req.SetHeader("user-agent", cred.UserAgent)
	}

	res, err := req.Post("/view_course_offerings")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return "", err
	}

	body := string(res.Body())
	if rejected(res.StatusCode(), body) {
		span.SetStatus(codes.Error, "upstream rejected")
		return "", fmt.Errorf("%w: status %d", ErrUpstreamRejected, res.StatusCode())
	}

	return ExtractOfferingsTable(body), nil
}

// rejection signatures: challenge interstitials, auth redirects and
// responses that lost the offerings form entirely
func rejected(status int, body string) bool {
	if status == 403 || status == 503 {
		return true
	}
	if strings.Contains(body, "Just a moment...") ||
		strings.Contains(body, "challenge-platform") ||
		strings.Contains(body, "cf-chl") {
		return true
	}
	return !strings.Contains(body, offeringsFormMarker)
}
