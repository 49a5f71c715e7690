package materielnet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"billfetch-backend/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, serverUrl string) *Client {
	cleanup := telemetry.SetupForTesting(t, "test:scrapers/materielnet")
	t.Cleanup(cleanup)

	client, err := NewClient(context.Background(), ClientOptions{
		BaseUrl:   serverUrl,
		SecureUrl: serverUrl,
	})
	if err != nil {
		t.Fatal(err)
	}
	return client
}

func sessionCookies(c *Client) []*http.Cookie {
	return c.Http.GetClient().Jar.Cookies(c.SecureUrl)
}

func writeLoginSuccess(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]any{
		"authenticationSuccess": true,
		"user": map[string]string{
			"Id":                 "42",
			"AuthenticationCode": "xyz",
		},
	})
}

func TestLoginSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Login/Login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPageFixture)
	})
	mux.HandleFunc("/form/submit_login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "user@example.test", r.PostForm.Get("Email"))
		require.Equal(t, "hunter2", r.PostForm.Get("Password"))
		require.Equal(t, "abc123", r.PostForm.Get("__RequestVerificationToken"))
		writeLoginSuccess(w)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	auth := TokenAuth{Client: client}

	err := auth.Login(context.Background(), Credentials{
		Login:    "user@example.test",
		Password: "hunter2",
	})
	if err != nil {
		t.Fatal(err)
	}

	require.Equal(t, &Identity{
		UserId:             "42",
		AuthenticationCode: "xyz",
	}, client.Identity())

	cookies := sessionCookies(client)
	require.Len(t, cookies, 1)
	require.Equal(t, "Customer", cookies[0].Name)
	require.Equal(t, "ID=42&KEY=xyz", cookies[0].Value)
}

func TestLoginInvalidCredentials(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Login/Login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPageFixture)
	})
	mux.HandleFunc("/form/submit_login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"authenticationSuccess":false}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	auth := TokenAuth{Client: client}

	err := auth.Login(context.Background(), Credentials{Login: "a", Password: "b"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// a failed login must leave the session untouched
	require.Nil(t, client.Identity())
	require.Empty(t, sessionCookies(client))
}

func TestLoginTokenNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Login/Login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="login"><form></form></div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	auth := TokenAuth{Client: client}

	err := auth.Login(context.Background(), Credentials{Login: "a", Password: "b"})
	require.ErrorIs(t, err, ErrTokenNotFound)
	require.Empty(t, sessionCookies(client))
}

func TestLoginMalformedResponse(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Login/Login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPageFixture)
	})
	mux.HandleFunc("/form/submit_login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html>definitely not json</html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	auth := TokenAuth{Client: client}

	err := auth.Login(context.Background(), Credentials{Login: "a", Password: "b"})
	require.ErrorIs(t, err, ErrMalformedResponse)
	require.Empty(t, sessionCookies(client))
}

func TestLoginCaptchaOnPage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Login/Login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<div class="g-recaptcha" data-sitekey="sk-123"></div>
			<script>window.renderCaptcha()</script>
			<div id="login"><form>
				<input name="__RequestVerificationToken" value="abc123"/>
			</form></div>
		</body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	auth := TokenAuth{Client: client}

	err := auth.Login(context.Background(), Credentials{Login: "a", Password: "b"})

	var captchaErr *CaptchaError
	require.ErrorAs(t, err, &captchaErr)
	require.Equal(t, "sk-123", captchaErr.Challenge.SiteKey)
	require.Equal(t, "abc123", captchaErr.Challenge.LoginToken)
	require.Empty(t, sessionCookies(client))
}

func TestLoginCaptchaResume(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Login/Login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPageFixture)
	})
	mux.HandleFunc("/form/submit_login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("g-recaptcha-response") != "solved" {
			fmt.Fprint(w, `{"authenticationSuccess":false,"loginForm":"<script>window.renderCaptcha()</script>"}`)
			return
		}
		writeLoginSuccess(w)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	auth := TokenAuth{Client: client}

	err := auth.Login(context.Background(), Credentials{Login: "a", Password: "b"})
	var captchaErr *CaptchaError
	require.ErrorAs(t, err, &captchaErr)
	require.Empty(t, sessionCookies(client))

	err = auth.LoginWithCaptcha(context.Background(), Credentials{Login: "a", Password: "b"}, "solved")
	if err != nil {
		t.Fatal(err)
	}

	cookies := sessionCookies(client)
	require.Len(t, cookies, 1)
	require.Equal(t, "ID=42&KEY=xyz", cookies[0].Value)
}

func TestIsAuthenticated(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Orders/CompletedOrdersPeriodSelection", func(w http.ResponseWriter, r *http.Request) {
		_, err := r.Cookie("Customer")
		if err != nil {
			http.Redirect(w, r, "/Login/Login", http.StatusFound)
			return
		}
		fmt.Fprint(w, `[]`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv.URL)

	ok, err := client.IsAuthenticated(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, ok)

	client.setIdentity(Identity{UserId: "42", AuthenticationCode: "xyz"})

	ok, err = client.IsAuthenticated(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, ok)
}

func TestIsAuthenticatedSurfacesTransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client := newTestClient(t, srv.URL)
	srv.Close()

	// an unreachable server is an outage, not an expired session
	_, err := client.IsAuthenticated(context.Background())
	require.Error(t, err)
}
