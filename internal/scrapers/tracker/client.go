package tracker

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"surgerywatch/internal/assert"
	"surgerywatch/internal/telemetry"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	report_client_resolve_legend  = "client.resolve-legend"
	report_client_fetch_status    = "client.fetch-status"
	report_client_list_facilities = "client.list-facilities"
	defaultLegendPath             = "/Legend.aspx"
	defaultLegendTableId          = "tblLegend"
	defaultStatusPath             = "/PatientTracking.asmx/GetPatientStatus"
	defaultFacilitiesPath         = "/"
	defaultFacilityParam          = "facilityID"
	defaultTimeout                = 30 * time.Second
	defaultRequestsPerSecond      = 2
	userAgent                     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"
)

// Options locates the different pages of a patient tracking portal. Everything except
// BaseUrl has a default.
type Options struct {
	BaseUrl string
	// LegendPath is the informational page that holds the color legend.
	LegendPath    string
	LegendTableId string
	// StatusPath is the json endpoint patient statuses are POSTed to.
	StatusPath string
	// FacilitiesPath is the page that links to every facility.
	FacilitiesPath string
	// FacilityParam is the query parameter facility links carry their id in.
	FacilityParam string
	Timeout       time.Duration
	// RequestsPerSecond limits outgoing requests, a negative value disables limiting.
	RequestsPerSecond float64
	CloudflareBypass  bool
	// Location is the timezone portal timestamps without an offset are read in.
	Location *time.Location
	// HttpDump receives every http exchange when set.
	HttpDump telemetry.DumpOutput
}

func (o Options) withDefaults() Options {
	if o.LegendPath == "" {
		o.LegendPath = defaultLegendPath
	}
	if o.LegendTableId == "" {
		o.LegendTableId = defaultLegendTableId
	}
	if o.StatusPath == "" {
		o.StatusPath = defaultStatusPath
	}
	if o.FacilitiesPath == "" {
		o.FacilitiesPath = defaultFacilitiesPath
	}
	if o.FacilityParam == "" {
		o.FacilityParam = defaultFacilityParam
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.RequestsPerSecond == 0 {
		o.RequestsPerSecond = defaultRequestsPerSecond
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	return o
}

// Client scrapes a single patient tracking portal.
type Client struct {
	http    *resty.Client
	baseUrl *url.URL
	opts    Options
	tel     telemetry.API
}

func NewClient(opts Options, tel telemetry.API) (*Client, error) {
	assert.NotNil(tel)

	tel = telemetry.NewScopedAPI("tracker_scraper", tel)
	opts = opts.withDefaults()

	if opts.BaseUrl == "" {
		return nil, fmt.Errorf("tracker: base url is required")
	}
	baseUrl, err := url.Parse(strings.TrimSuffix(opts.BaseUrl, "/"))
	if err != nil {
		return nil, fmt.Errorf("tracker: parse base url: %w", err)
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(baseUrl.String())
	httpClient.SetTimeout(opts.Timeout)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient.SetCookieJar(jar)
	httpClient.SetHeader("user-agent", userAgent)

	if opts.CloudflareBypass {
		transport := httpClient.GetClient().Transport
		if transport == nil {
			transport = http.DefaultTransport.(*http.Transport).Clone()
		}
		httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(transport)
	}

	if opts.RequestsPerSecond > 0 {
		// max burst >= 2 just means that no requests will be dropped
		rateLimiter := rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 2)
		httpClient.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
			return rateLimiter.Wait(req.Context())
		})
	}

	telemetry.InstrumentResty(httpClient, tel, opts.HttpDump)

	return &Client{
		http:    httpClient,
		baseUrl: baseUrl,
		opts:    opts,
		tel:     tel,
	}, nil
}
