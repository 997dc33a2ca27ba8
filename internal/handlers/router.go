package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes bundles everything the API router serves.
type Routes struct {
	JWTSecret      string
	BotSecret      string
	AllowedOrigins []string

	Auth         *AuthHandler
	Keys         *KeyHandler
	Compressions *CompressionHandler
	Settings     *SettingsHandler
	Feed         *FeedHandler
	Bot          *BotInternalHandler
}

func NewRouter(rt Routes) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CORSMiddleware(rt.AllowedOrigins))

	// Health check
	r.Get("/health", Health)

	r.Route("/api/v1", func(r chi.Router) {
		// Public Routes
		r.Post("/auth/login", rt.Auth.Login)
		r.Get("/auth/discord/login", rt.Auth.DiscordOAuthLogin)
		r.Get("/auth/discord/callback", rt.Auth.DiscordOAuthCallback)

		// Discord bot
		r.Route("/bot", func(r chi.Router) {
			r.Use(BotSecretMiddleware(rt.BotSecret))
			r.Get("/usage", rt.Bot.GetUsage)
		})

		// Protected Routes
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(rt.JWTSecret))

			r.Get("/auth/me", rt.Auth.GetMe)

			// Live feed outlives the request timeout below.
			r.Get("/ws", rt.Feed.Serve)

			// Uploads can take a while: one provider round trip per file.
			r.With(middleware.Timeout(10*time.Minute)).Post("/compress", rt.Compressions.Compress)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))

				r.Route("/keys", func(r chi.Router) {
					r.Get("/", rt.Keys.ListKeys)
					r.Post("/", rt.Keys.RegisterKey)
					r.Post("/reset", rt.Keys.ResetUsage)
					r.Patch("/{id}", rt.Keys.UpdateKey)
					r.Delete("/{id}", rt.Keys.DeleteKey)
				})

				r.Route("/compressions", func(r chi.Router) {
					r.Get("/", rt.Compressions.List)
					r.Get("/{id}", rt.Compressions.Get)
					r.Get("/{id}/download", rt.Compressions.Download)
					r.Delete("/{id}", rt.Compressions.Delete)
				})
				r.Get("/stats", rt.Compressions.Stats)

				r.Route("/settings", func(r chi.Router) {
					r.Get("/", rt.Settings.GetSettings)
					r.Put("/", rt.Settings.UpdateSetting)
				})
			})
		})
	})

	return r
}
