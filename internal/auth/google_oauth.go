package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	defaultGoogleUserInfoURL = "https://openidconnect.googleapis.com/v1/userinfo"
	providerGoogle           = "google"
	maxUserInfoBytes         = 1 << 20
)

var (
	// ErrEmailNotVerified はGoogle側でemailが未確認のアカウントを表す。
	ErrEmailNotVerified = errors.New("google account email is not verified")
	// ErrIncompleteUserInfo はuserinfoにsubまたはemailが含まれないことを表す。
	ErrIncompleteUserInfo = errors.New("google userinfo lacks sub or email")
)

// GoogleOAuthConfig はGoogleログインの設定。AuthURL・TokenURL・UserInfoURLは空ならGoogleの本番エンドポイント。
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	AuthURL     string
	TokenURL    string
	UserInfoURL string

	// HTTPClient はトークン交換とuserinfo取得に使う。nilならhttp.DefaultClient。
	HTTPClient *http.Client
}

// GoogleOAuthProvider はGoogleのOpenID Connectで本人確認を行う。
type GoogleOAuthProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

// NewGoogleOAuthProvider はGoogleOAuthProviderを生成する。
func NewGoogleOAuthProvider(config GoogleOAuthConfig) *GoogleOAuthProvider {
	endpoint := google.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}

	p := &GoogleOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: config.UserInfoURL,
		httpClient:  config.HTTPClient,
	}
	if p.userInfoURL == "" {
		p.userInfoURL = defaultGoogleUserInfoURL
	}
	return p
}

// GetLoginURL は同意画面のURLを返す。複数アカウントを持つ利用者のためにアカウント選択を毎回表示する。
func (p *GoogleOAuthProvider) GetLoginURL(state string) string {
	return p.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOnline,
		oauth2.SetAuthURLParam("prompt", "select_account"),
	)
}

// googleClaims はuserinfoエンドポイントが返すOIDCクレームのうち利用するもの。
type googleClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (c googleClaims) userInfo() (*OAuthUserInfo, error) {
	email := strings.ToLower(strings.TrimSpace(c.Email))
	if c.Sub == "" || email == "" {
		return nil, ErrIncompleteUserInfo
	}
	if !c.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	return &OAuthUserInfo{
		ProviderUserID: c.Sub,
		Email:          email,
		Name:           strings.TrimSpace(c.Name),
		Picture:        c.Picture,
		Provider:       providerGoogle,
	}, nil
}

// ExchangeCode は認可コードをトークンに交換し、確認済みemailを持つユーザー情報を返す。
func (p *GoogleOAuthProvider) ExchangeCode(ctx context.Context, code string) (*OAuthUserInfo, error) {
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google token exchange: %w", err)
	}

	claims, err := p.fetchClaims(ctx, p.oauth.Client(ctx, token))
	if err != nil {
		return nil, fmt.Errorf("google userinfo: %w", err)
	}
	return claims.userInfo()
}

func (p *GoogleOAuthProvider) fetchClaims(ctx context.Context, client *http.Client) (googleClaims, error) {
	var claims googleClaims

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return claims, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return claims, err
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxUserInfoBytes)
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(body, 512))
		return claims, fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if err := json.NewDecoder(body).Decode(&claims); err != nil {
		return claims, fmt.Errorf("decode: %w", err)
	}
	return claims, nil
}

var _ OAuthProvider = (*GoogleOAuthProvider)(nil)
