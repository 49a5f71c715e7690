package materielnet

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"billfetch-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("scrapers/materielnet")

const Vendor = "Materiel.net"

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Credentials are the user's storefront login. They are input only and
// never stored by the client.
type Credentials struct {
	Login    string
	Password string
}

// Identity is the secondary identity pair extracted from a successful
// login response. The vendor requires both halves on every authenticated
// request, so they are always attached together as one cookie.
type Identity struct {
	UserId             string
	AuthenticationCode string
}

type ClientOptions struct {
	// storefront origin, e.g. https://www.materiel.net
	BaseUrl string
	// authenticated origin, e.g. https://secure.materiel.net
	SecureUrl string
	Timeout   time.Duration
	// prefixes (compared diacritic- and case-insensitively) marking an
	// order row as completed; rows matching none of these are dropped.
	// the vendor's exact wording is not authoritative, which is why this
	// is configuration rather than a constant.
	StatusMarkers []string
}

var DefaultStatusMarkers = []string{"termin", "commande exp"}

// Client owns the scraping session against the vendor: a persistent
// cookie jar shared by every request plus the identity pair captured at
// login time. The jar is only ever mutated by a successful login.
type Client struct {
	BaseUrl   *url.URL
	SecureUrl *url.URL
	Http      *resty.Client

	// identical session but with redirects disabled, used solely by the
	// authentication probe
	probe *resty.Client

	markers  []string
	identity *Identity
}

func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}
	secureUrl, err := url.Parse(opts.SecureUrl)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = time.Second * 30
	}
	markers := opts.StatusMarkers
	if len(markers) == 0 {
		markers = DefaultStatusMarkers
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", userAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(
		baseUrl.Hostname(),
		secureUrl.Hostname(),
	))
	client.SetTimeout(timeout)
	telemetry.InstrumentResty(client, "scrapers/materielnet/http")

	probe := resty.New()
	probe.SetCookieJar(jar)
	probe.SetHeader("user-agent", userAgent)
	probe.SetRedirectPolicy(resty.NoRedirectPolicy())
	probe.SetTimeout(timeout)
	telemetry.InstrumentResty(probe, "scrapers/materielnet/probe")

	return &Client{
		BaseUrl:   baseUrl,
		SecureUrl: secureUrl,
		Http:      client,
		probe:     probe,
		markers:   markers,
	}, nil
}

// Identity returns the captured identity pair, or nil before login.
func (c *Client) Identity() *Identity {
	return c.identity
}

func (c *Client) secure(path string) string {
	return c.SecureUrl.JoinPath(path).String()
}

func (c *Client) base(path string) string {
	return c.BaseUrl.JoinPath(path).String()
}

// setIdentity is the single mutation point of the session state. It is
// called only after the vendor confirmed authentication.
func (c *Client) setIdentity(id Identity) {
	c.identity = &id
	c.Http.GetClient().Jar.SetCookies(c.SecureUrl, []*http.Cookie{{
		Name:  "Customer",
		Value: fmt.Sprintf("ID=%s&KEY=%s", id.UserId, id.AuthenticationCode),
	}})
}

// IsAuthenticated probes an authenticated-only endpoint with redirects
// disabled: a redirect means the session is gone, a 2xx means it is still
// valid. Transport failures are surfaced rather than reported as "not
// logged in" so outages are not mistaken for expired sessions.
func (c *Client) IsAuthenticated(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "IsAuthenticated")
	defer span.End()

	res, err := c.probe.R().
		SetContext(ctx).
		Get(c.secure("/Orders/CompletedOrdersPeriodSelection"))
	if err != nil {
		if errors.Is(err, resty.ErrAutoRedirectDisabled) {
			return false, nil
		}
		return false, err
	}
	code := res.StatusCode()
	if code >= 300 && code < 400 {
		return false, nil
	}
	if res.IsSuccess() {
		return true, nil
	}
	return false, fmt.Errorf("session probe returned unexpected status %d", code)
}
