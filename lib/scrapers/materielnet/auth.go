package materielnet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

// Authenticator is one generation of the vendor's login protocol. The
// vendor has changed its defenses several times (plain form post, then
// anti-forgery token plus identity cookie, then captcha), so the protocol
// is swappable without touching the orchestration or the walkers.
type Authenticator interface {
	Login(ctx context.Context, creds Credentials) error
}

// CaptchaAuthenticator is implemented by protocol generations that can
// resume a login attempt with a solved captcha token.
type CaptchaAuthenticator interface {
	Authenticator
	LoginWithCaptcha(ctx context.Context, creds Credentials, captchaToken string) error
}

type loginResponse struct {
	AuthenticationSuccess bool `json:"authenticationSuccess"`
	User                  *struct {
		Id                 string `json:"Id"`
		AuthenticationCode string `json:"AuthenticationCode"`
	} `json:"user"`
	LoginForm string `json:"loginForm"`
}

// fetchLoginPage loads the login form and extracts the single-use
// anti-forgery token. When the page already demands a captcha the
// challenge is returned alongside the token.
func (c *Client) fetchLoginPage(ctx context.Context) (string, *CaptchaChallenge, error) {
	ctx, span := tracer.Start(ctx, "fetchLoginPage")
	defer span.End()

	pageUrl := c.secure("/Login/Login")
	res, err := c.Http.R().
		SetContext(ctx).
		Get(pageUrl)
	if err != nil {
		span.SetStatus(codes.Error, "failed to fetch login page")
		return "", nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse login page html")
		return "", nil, err
	}

	challenge := findCaptcha(res.String(), doc, pageUrl)

	token, err := extractLoginToken(doc)
	if err != nil {
		span.SetStatus(codes.Error, "failed to find login token")
		return "", nil, err
	}
	if challenge != nil {
		challenge.LoginToken = token
	}
	return token, challenge, nil
}

// submitLogin posts credentials to the login endpoint and, on success,
// installs the identity cookie pair. The session is left untouched on
// every failure path.
func (c *Client) submitLogin(ctx context.Context, creds Credentials, token, captchaToken string) error {
	ctx, span := tracer.Start(ctx, "submitLogin")
	defer span.End()

	form := map[string]string{
		"Email":                      creds.Login,
		"Password":                   creds.Password,
		"__RequestVerificationToken": token,
	}
	if captchaToken != "" {
		form["g-recaptcha-response"] = captchaToken
	}

	res, err := c.Http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(c.base("/form/submit_login"))
	if err != nil {
		span.SetStatus(codes.Error, "failed to make login request")
		return err
	}

	var parsed loginResponse
	err = json.Unmarshal(res.Body(), &parsed)
	if err != nil {
		span.SetStatus(codes.Error, "failed to parse login response")
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if !parsed.AuthenticationSuccess || parsed.User == nil {
		if strings.Contains(parsed.LoginForm, captchaMarker) ||
			strings.Contains(res.String(), captchaMarker) {
			span.SetStatus(codes.Error, "login response demands a captcha")
			return &CaptchaError{Challenge: CaptchaChallenge{
				PageURL:    c.secure("/Login/Login"),
				LoginToken: token,
			}}
		}
		span.SetStatus(codes.Error, "vendor rejected credentials")
		return ErrInvalidCredentials
	}

	c.setIdentity(Identity{
		UserId:             parsed.User.Id,
		AuthenticationCode: parsed.User.AuthenticationCode,
	})
	return nil
}

// TokenAuth is the current login protocol: scrape the anti-forgery token,
// post credentials as a form, read a JSON verdict, then install the
// identity cookie pair. It resumes after a captcha by re-fetching the
// token (the previous one is single-use).
type TokenAuth struct {
	Client *Client
}

func (a TokenAuth) Login(ctx context.Context, creds Credentials) error {
	ctx, span := tracer.Start(ctx, "TokenAuth:Login")
	defer span.End()

	token, challenge, err := a.Client.fetchLoginPage(ctx)
	if err != nil {
		return err
	}
	if challenge != nil {
		return &CaptchaError{Challenge: *challenge}
	}
	return a.Client.submitLogin(ctx, creds, token, "")
}

func (a TokenAuth) LoginWithCaptcha(ctx context.Context, creds Credentials, captchaToken string) error {
	ctx, span := tracer.Start(ctx, "TokenAuth:LoginWithCaptcha")
	defer span.End()

	// the page will still carry the captcha marker here; the solved
	// token is what gets us past it
	token, _, err := a.Client.fetchLoginPage(ctx)
	if err != nil {
		return err
	}
	return a.Client.submitLogin(ctx, creds, token, captchaToken)
}

// FormAuth is the retired first-generation protocol: a bare form post
// with the session carried entirely by server-set cookies. It cannot
// resume from a captcha, encountering one is terminal for this
// generation.
type FormAuth struct {
	Client *Client
}

func (a FormAuth) Login(ctx context.Context, creds Credentials) error {
	ctx, span := tracer.Start(ctx, "FormAuth:Login")
	defer span.End()

	res, err := a.Client.probe.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"identifier":  creds.Login,
			"credentials": creds.Password,
			"back":        "",
		}).
		Post(a.Client.base("/pm/client/logincheck.nt.html"))
	if err != nil && !errors.Is(err, resty.ErrAutoRedirectDisabled) {
		span.SetStatus(codes.Error, "failed to make login request")
		return err
	}

	location := res.Header().Get("Location")
	if strings.Contains(location, "captcha") {
		span.SetStatus(codes.Error, "login redirected to a captcha page")
		return &CaptchaError{Challenge: CaptchaChallenge{
			PageURL: location,
		}}
	}
	return nil
}
