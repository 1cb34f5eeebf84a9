package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gachahub/gachahub/auth"
	"github.com/gachahub/gachahub/guard"
	"github.com/gachahub/gachahub/notify"
	"github.com/gachahub/gachahub/scrape"
	"github.com/gachahub/gachahub/shield"
	"github.com/gachahub/gachahub/users"
)

func newRouter(ctx context.Context, db *sql.DB, jwtSecret []byte, svc *scrape.Service, userStore *users.Store, metrics *scrape.Metrics, dispatcher *notify.Dispatcher) http.Handler {
	r := chi.NewRouter()
	stack, rl := shield.DefaultAPIStack(db)
	for _, mw := range stack {
		r.Use(mw)
	}
	rl.StartReloader(ctx.Done())
	r.Use(auth.Middleware(jwtSecret))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// Public auth endpoints.
	r.Post("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		u, err := userStore.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			writeJSON(w, 401, map[string]string{"error": "invalid credentials"})
			return
		}
		issueToken(w, r, jwtSecret, u, 200)
	})

	// Admin console login: same flow, but non-admin accounts are rejected
	// before a token is issued.
	r.Post("/api/auth/admin/login", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		u, err := userStore.Authenticate(r.Context(), req.Username, req.Password)
		if err != nil {
			writeJSON(w, 401, map[string]string{"error": "invalid credentials"})
			return
		}
		if u.Role != users.RoleAdmin {
			writeJSON(w, 403, map[string]string{"error": "admin account required"})
			return
		}
		issueToken(w, r, jwtSecret, u, 200)
	})

	r.Post("/api/auth/register", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, 400, err)
			return
		}
		u, err := userStore.Create(r.Context(), req.Username, req.Email, req.Password, users.RoleUser)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		issueToken(w, r, jwtSecret, u, 201)
	})

	r.Post("/api/auth/logout", func(w http.ResponseWriter, _ *http.Request) {
		auth.ClearTokenCookie(w, "")
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Authenticated API.
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.Get("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
			c := auth.GetClaims(r.Context())
			writeJSON(w, 200, map[string]string{
				"id": c.UserID, "username": c.Username, "role": c.Role, "email": c.Email,
			})
		})

		r.Post("/api/users/me/notifications/toggle", func(w http.ResponseWriter, r *http.Request) {
			c := auth.GetClaims(r.Context())
			enabled, err := userStore.ToggleNotification(r.Context(), c.UserID)
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, 200, map[string]bool{"notificationEnabled": enabled})
		})

		// Product catalog.
		r.Get("/api/products", func(w http.ResponseWriter, r *http.Request) {
			page, err := svc.ListProducts(r.Context(), productQuery(r))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, 200, page)
		})

		r.Get("/api/products/new", func(w http.ResponseWriter, r *http.Request) {
			list, err := svc.ListNewProducts(r.Context(), queryInt(r, "limit", 20))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			if list == nil {
				list = []*scrape.Product{}
			}
			writeJSON(w, 200, list)
		})

		r.Get("/api/products/{productID}", func(w http.ResponseWriter, r *http.Request) {
			p, err := svc.GetProduct(r.Context(), chi.URLParam(r, "productID"))
			if err != nil {
				writeDomainError(w, err)
				return
			}
			writeJSON(w, 200, p)
		})

		// Scrape operations (admin only).
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin)

			r.Post("/api/scrape/bandai", triggerHandler(svc, scrape.SiteBandai))
			r.Post("/api/scrape/takaratomy", triggerHandler(svc, scrape.SiteTakaraTomy))

			r.Get("/api/scrape/status", func(w http.ResponseWriter, r *http.Request) {
				status, err := svc.Status(r.Context())
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, 200, status)
			})

			r.Get("/api/scrape/logs", func(w http.ResponseWriter, r *http.Request) {
				logs, err := svc.RecentLogs(r.Context(), queryInt(r, "limit", 20))
				if err != nil {
					writeDomainError(w, err)
					return
				}
				if logs == nil {
					logs = []*scrape.RunLog{}
				}
				writeJSON(w, 200, logs)
			})

			r.Get("/api/scrape/logs/{site}", func(w http.ResponseWriter, r *http.Request) {
				logs, err := svc.LogsBySite(r.Context(), chi.URLParam(r, "site"), queryInt(r, "limit", 20))
				if err != nil {
					writeDomainError(w, err)
					return
				}
				if logs == nil {
					logs = []*scrape.RunLog{}
				}
				writeJSON(w, 200, logs)
			})

			// Site config CRUD.
			r.Route("/api/scrape/configs", func(r chi.Router) {
				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					list, err := svc.ListConfigs(r.Context())
					if err != nil {
						writeDomainError(w, err)
						return
					}
					if list == nil {
						list = []*scrape.SiteConfig{}
					}
					writeJSON(w, 200, list)
				})
				r.Post("/", func(w http.ResponseWriter, r *http.Request) {
					var in scrape.ConfigInput
					if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
						writeError(w, 400, err)
						return
					}
					cfg, err := svc.CreateConfig(r.Context(), &in)
					if err != nil {
						writeDomainError(w, err)
						return
					}
					writeJSON(w, 201, cfg)
				})
				r.Get("/{configID}", func(w http.ResponseWriter, r *http.Request) {
					cfg, err := svc.GetConfig(r.Context(), chi.URLParam(r, "configID"))
					if err != nil {
						writeDomainError(w, err)
						return
					}
					writeJSON(w, 200, cfg)
				})
				r.Put("/{configID}", func(w http.ResponseWriter, r *http.Request) {
					var in scrape.ConfigInput
					if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
						writeError(w, 400, err)
						return
					}
					cfg, err := svc.UpdateConfig(r.Context(), chi.URLParam(r, "configID"), &in)
					if err != nil {
						writeDomainError(w, err)
						return
					}
					writeJSON(w, 200, cfg)
				})
				r.Delete("/{configID}", func(w http.ResponseWriter, r *http.Request) {
					if err := svc.DeleteConfig(r.Context(), chi.URLParam(r, "configID")); err != nil {
						writeDomainError(w, err)
						return
					}
					writeJSON(w, 200, map[string]string{"status": "deleted"})
				})
				r.Patch("/{configID}/toggle", func(w http.ResponseWriter, r *http.Request) {
					id := chi.URLParam(r, "configID")
					cfg, err := svc.GetConfig(r.Context(), id)
					if err != nil {
						writeDomainError(w, err)
						return
					}
					cfg, err = svc.UpdateConfig(r.Context(), id, &scrape.ConfigInput{
						SiteURL:        cfg.SiteURL,
						CronExpression: cfg.CronExpression,
						IsEnabled:      !cfg.IsEnabled,
					})
					if err != nil {
						writeDomainError(w, err)
						return
					}
					writeJSON(w, 200, cfg)
				})
			})

			// Notification administration.
			r.Patch("/api/notifications/users/{userID}/toggle", func(w http.ResponseWriter, r *http.Request) {
				enabled, err := userStore.ToggleNotification(r.Context(), chi.URLParam(r, "userID"))
				if err != nil {
					writeDomainError(w, err)
					return
				}
				writeJSON(w, 200, map[string]bool{"notificationEnabled": enabled})
			})

			r.Post("/api/notifications/test", func(w http.ResponseWriter, r *http.Request) {
				if dispatcher == nil {
					writeJSON(w, 503, map[string]string{"error": "smtp not configured"})
					return
				}
				price := 300
				dispatcher.Enqueue("TEST", []notify.Product{{
					Name:         "テスト商品",
					Manufacturer: "GACHAHUB",
					Price:        &price,
					ReleaseDate:  "2026-01-01",
				}})
				writeJSON(w, 202, map[string]string{"status": "queued"})
			})

			// User management.
			r.Route("/api/admin/users", func(r chi.Router) {
				r.Get("/", func(w http.ResponseWriter, r *http.Request) {
					list, err := userStore.List(r.Context())
					if err != nil {
						writeDomainError(w, err)
						return
					}
					if list == nil {
						list = []*users.User{}
					}
					writeJSON(w, 200, list)
				})
				r.Post("/", func(w http.ResponseWriter, r *http.Request) {
					var req struct {
						Username string `json:"username"`
						Email    string `json:"email"`
						Password string `json:"password"`
						Role     string `json:"role"`
					}
					if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
						writeError(w, 400, err)
						return
					}
					if req.Role == "" {
						req.Role = users.RoleUser
					}
					u, err := userStore.Create(r.Context(), req.Username, req.Email, req.Password, req.Role)
					if err != nil {
						writeDomainError(w, err)
						return
					}
					writeJSON(w, 201, u)
				})
				r.Delete("/{userID}", func(w http.ResponseWriter, r *http.Request) {
					if err := userStore.Delete(r.Context(), chi.URLParam(r, "userID")); err != nil {
						writeDomainError(w, err)
						return
					}
					writeJSON(w, 200, map[string]string{"status": "deleted"})
				})
			})
		})
	})

	return r
}

func issueToken(w http.ResponseWriter, r *http.Request, jwtSecret []byte, u *users.User, code int) {
	token, err := auth.GenerateToken(jwtSecret, &auth.Claims{
		UserID:   u.ID,
		Username: u.Username,
		Role:     u.Role,
		Email:    u.Email,
	}, 24*time.Hour)
	if err != nil {
		writeError(w, 500, err)
		return
	}
	secure := r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
	auth.SetTokenCookie(w, token, "", secure)
	writeJSON(w, code, map[string]any{"token": token, "user": u})
}

func triggerHandler(svc *scrape.Service, site string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.TriggerScrape(r.Context(), site)
		if errors.Is(err, scrape.ErrRunInProgress) {
			writeJSON(w, 409, map[string]string{"status": "busy", "site": site})
			return
		}
		if err != nil {
			if res != nil {
				// Failed runs keep the trigger shape; the status field
				// carries the outcome.
				writeJSON(w, 500, res)
				return
			}
			writeDomainError(w, err)
			return
		}
		writeJSON(w, 200, res)
	}
}

func serve(ctx context.Context, port string, handler http.Handler) {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Helpers ---

func productQuery(r *http.Request) scrape.ProductQuery {
	return scrape.ProductQuery{
		Page:         queryInt(r, "page", 0),
		Size:         queryInt(r, "size", 20),
		Sort:         r.URL.Query().Get("sort"),
		Direction:    r.URL.Query().Get("direction"),
		Manufacturer: r.URL.Query().Get("manufacturer"),
		Keyword:      r.URL.Query().Get("keyword"),
	}
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeDomainError maps service errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, scrape.ErrNotFound), errors.Is(err, scrape.ErrUnknownSite),
		errors.Is(err, users.ErrNotFound):
		writeError(w, 404, err)
	case errors.Is(err, scrape.ErrRunInProgress), errors.Is(err, scrape.ErrDuplicateConfig),
		errors.Is(err, users.ErrDuplicate), errors.Is(err, users.ErrLastAdmin):
		writeError(w, 409, err)
	case errors.Is(err, scrape.ErrInvalidInput), errors.Is(err, users.ErrInvalidInput),
		errors.Is(err, guard.ErrSSRF), errors.Is(err, guard.ErrUnsafeScheme):
		writeError(w, 400, err)
	default:
		writeError(w, 500, err)
	}
}
