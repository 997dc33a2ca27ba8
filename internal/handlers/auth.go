package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/akagifreeez/tinify-dashboard/internal/config"
	"github.com/akagifreeez/tinify-dashboard/internal/models"
)

const discordAPIBase = "https://discord.com/api"

type AuthHandler struct {
	jwtSecret   string
	users       map[string]string
	allowedIDs  map[string]bool
	frontendURL string
	oauth       *oauth2.Config
	userInfoURL string
}

func NewAuthHandler(cfg *config.Config) *AuthHandler {
	allowed := make(map[string]bool, len(cfg.DiscordAllowedIDs))
	for _, id := range cfg.DiscordAllowedIDs {
		allowed[id] = true
	}
	return &AuthHandler{
		jwtSecret:   cfg.JWTSecret,
		users:       cfg.DashboardUsers,
		allowedIDs:  allowed,
		frontendURL: cfg.FrontendURL,
		oauth: &oauth2.Config{
			RedirectURL:  cfg.PublicAPIURL + "/api/v1/auth/discord/callback",
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/api/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		},
		userInfoURL: discordAPIBase + "/users/@me",
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token    string          `json:"token"`
	Operator models.Operator `json:"operator"`
}

// Login checks static operator credentials and returns JWT token
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	want, ok := h.users[req.Username]
	if !ok {
		// Compare anyway so unknown users cost the same as wrong passwords.
		want = "\x00"
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(want)) != 1 || !ok {
		log.Warn().Str("username", req.Username).Msg("Rejected dashboard login")
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	op := models.Operator{Username: req.Username, Source: "static"}
	tokenString, err := issueToken(h.jwtSecret, op)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	log.Info().Str("username", op.Username).Msg("Operator logged in")
	respondJSON(w, http.StatusOK, LoginResponse{Token: tokenString, Operator: op})
}

// GetMe returns current operator info
// GET /api/v1/auth/me
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	op, ok := GetOperatorFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	respondJSON(w, http.StatusOK, op)
}

// oauthState is a short-lived signed token so callbacks can't be forged.
func (h *AuthHandler) oauthState() (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer + "/oauth",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(h.jwtSecret))
}

func (h *AuthHandler) checkState(state string) error {
	_, err := jwt.ParseWithClaims(state, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(h.jwtSecret), nil
	}, jwt.WithIssuer(tokenIssuer+"/oauth"), jwt.WithExpirationRequired())
	return err
}

// DiscordOAuthLogin initiates the Discord OAuth flow
// GET /api/v1/auth/discord/login
func (h *AuthHandler) DiscordOAuthLogin(w http.ResponseWriter, r *http.Request) {
	if h.oauth.ClientID == "" {
		http.Error(w, "Discord login is not configured", http.StatusNotFound)
		return
	}
	state, err := h.oauthState()
	if err != nil {
		http.Error(w, "Failed to start login", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// DiscordOAuthCallback handles the Discord OAuth callback
// GET /api/v1/auth/discord/callback
func (h *AuthHandler) DiscordOAuthCallback(w http.ResponseWriter, r *http.Request) {
	if err := h.checkState(r.FormValue("state")); err != nil {
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	code := r.FormValue("code")
	if code == "" {
		http.Error(w, "Code not found", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	token, err := h.oauth.Exchange(ctx, code)
	if err != nil {
		log.Error().Err(err).Msg("Discord token exchange failed")
		http.Error(w, "Failed to exchange token", http.StatusBadGateway)
		return
	}

	// Fetch user details from Discord
	client := h.oauth.Client(ctx, token)
	resp, err := client.Get(h.userInfoURL)
	if err != nil {
		http.Error(w, "Failed to fetch user info", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	var discordUser struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&discordUser); err != nil || discordUser.ID == "" {
		http.Error(w, "Failed to decode user info", http.StatusBadGateway)
		return
	}

	if !h.allowedIDs[discordUser.ID] {
		log.Warn().Str("discord_id", discordUser.ID).Str("username", discordUser.Username).Msg("Discord account is not an operator")
		http.Error(w, "This Discord account is not allowed to use the dashboard", http.StatusForbidden)
		return
	}

	op := models.Operator{Username: discordUser.Username, DiscordID: discordUser.ID, Source: "discord"}
	tokenString, err := issueToken(h.jwtSecret, op)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	log.Info().Str("discord_id", op.DiscordID).Msg("Operator logged in with Discord")
	http.Redirect(w, r, fmt.Sprintf("%s/oauth/callback?token=%s", h.frontendURL, url.QueryEscape(tokenString)), http.StatusFound)
}
